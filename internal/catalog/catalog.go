// Package catalog implements the routing catalog (C4): a concurrent-safe
// DNS name to Forwarder table supporting live insert/remove and
// longest-suffix-match lookup, serving reads while writes are in flight.
//
// Grounded on the RuleStore pattern found in proxy implementations built on
// github.com/miekg/dns: a rule slice guarded by a single sync.RWMutex,
// generalized here to a name-keyed routing table.
package catalog

import (
	"context"
	"sync"

	"github.com/miekg/dns"

	"github.com/polyresolver/polyresolver/internal/dnsname"
)

// Resolver forwards a single DNS query to a zone's upstream nameservers.
// Satisfied by *upstream.Resolver; declared narrowly here so the catalog
// does not depend on the upstream package's construction details.
type Resolver interface {
	Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error)
}

// Forwarder is an immutable route: a zone and the resolver that answers for
// it. Constructed once by the reconciler around the resolver the factory
// built, and shared across readers.
// UpstreamAddrs/Protocol are descriptive metadata carried for operational
// visibility (GET /api/v1/zones) — routing itself goes entirely through
// Resolver.
type Forwarder struct {
	Origin        dnsname.Name
	Resolver      Resolver
	UpstreamAddrs []string
	Protocol      string
}

// Catalog is an RWMutex-guarded mapping from canonical DNS name to
// Forwarder. Multiple Lookups run concurrently; Upsert and Remove hold an
// exclusive writer lock, so a Lookup observes either the pre- or post-write
// state, never a torn intermediate.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Forwarder
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Forwarder)}
}

// Upsert installs forwarder as the route for name, replacing any entry
// previously installed for exactly that name.
func (c *Catalog) Upsert(name dnsname.Name, forwarder *Forwarder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[name.String()] = forwarder
}

// Remove drops the entry exactly matching name. No-op if absent.
func (c *Catalog) Remove(name dnsname.Name) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, name.String())
}

// Lookup returns the Forwarder whose origin is the longest suffix of
// queryName, or nil if no entry matches. Safe for concurrent use alongside
// Upsert/Remove.
func (c *Catalog) Lookup(queryName dnsname.Name) *Forwarder {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, candidate := range queryName.Suffixes() {
		if f, ok := c.entries[candidate.String()]; ok {
			return f
		}
	}

	return nil
}

// Len reports the number of installed routes, for operational visibility
// (the dns_catalog_size gauge the reconciler sets after each mutation).
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// ZoneDescriptor is a read-only view of one installed route, for
// operational endpoints that should not see Resolver internals.
type ZoneDescriptor struct {
	Name          string
	UpstreamAddrs []string
	Protocol      string
}

// Snapshot returns a point-in-time copy of every installed route, for
// read-only operational endpoints such as GET /api/v1/zones.
func (c *Catalog) Snapshot() []ZoneDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ZoneDescriptor, 0, len(c.entries))
	for name, f := range c.entries {
		out = append(out, ZoneDescriptor{
			Name:          name,
			UpstreamAddrs: f.UpstreamAddrs,
			Protocol:      f.Protocol,
		})
	}

	return out
}
