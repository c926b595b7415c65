package catalog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/dnsname"
)

type stubResolver struct{ name string }

func (s *stubResolver) Resolve(context.Context, *dns.Msg) (*dns.Msg, error) { return nil, nil }

func forwarderFor(zone string) *catalog.Forwarder {
	name := dnsname.Parse(zone)

	return &catalog.Forwarder{Origin: name, Resolver: &stubResolver{name: zone}}
}

func TestLookupNoMatch(t *testing.T) {
	c := catalog.New()
	assert.Nil(t, c.Lookup(dnsname.Parse("baz.")))
}

func TestStartupScanTwoEntries(t *testing.T) {
	c := catalog.New()
	c.Upsert(dnsname.Parse("foo."), forwarderFor("foo."))
	c.Upsert(dnsname.Parse("bar."), forwarderFor("bar."))

	assert.Equal(t, 2, c.Len())
	assert.NotNil(t, c.Lookup(dnsname.Parse("foo.")))
	assert.NotNil(t, c.Lookup(dnsname.Parse("bar.")))
	assert.Nil(t, c.Lookup(dnsname.Parse("baz.")))
}

func TestLongestSuffixMatch(t *testing.T) {
	c := catalog.New()
	example := forwarderFor("example.")
	internalExample := forwarderFor("internal.example.")
	c.Upsert(dnsname.Parse("example."), example)
	c.Upsert(dnsname.Parse("internal.example."), internalExample)

	assert.Same(t, internalExample, c.Lookup(dnsname.Parse("host.internal.example.")))
	assert.Same(t, example, c.Lookup(dnsname.Parse("host.example.")))
}

func TestRootIsDefaultRoute(t *testing.T) {
	c := catalog.New()
	root := forwarderFor(".")
	c.Upsert(dnsname.Parse("."), root)

	assert.Same(t, root, c.Lookup(dnsname.Parse("anything.at.all.")))
}

func TestRemoveOnlyAffectsExactName(t *testing.T) {
	c := catalog.New()
	c.Upsert(dnsname.Parse("foo."), forwarderFor("foo."))
	c.Upsert(dnsname.Parse("bar."), forwarderFor("bar."))

	c.Remove(dnsname.Parse("foo."))

	assert.Nil(t, c.Lookup(dnsname.Parse("foo.")))
	assert.NotNil(t, c.Lookup(dnsname.Parse("bar.")))
}

func TestUpsertIdempotent(t *testing.T) {
	c := catalog.New()
	f := forwarderFor("foo.")
	c.Upsert(dnsname.Parse("foo."), f)
	c.Upsert(dnsname.Parse("foo."), f)

	assert.Equal(t, 1, c.Len())
}

func TestSnapshotReportsUpstreamMetadata(t *testing.T) {
	c := catalog.New()
	c.Upsert(dnsname.Parse("foo."), &catalog.Forwarder{
		Origin:        dnsname.Parse("foo."),
		Resolver:      &stubResolver{name: "foo."},
		UpstreamAddrs: []string{"192.0.2.1"},
		Protocol:      "udp",
	})

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "foo.", snap[0].Name)
	assert.Equal(t, []string{"192.0.2.1"}, snap[0].UpstreamAddrs)
	assert.Equal(t, "udp", snap[0].Protocol)
}

func TestConcurrentLookupsDuringWrites(t *testing.T) {
	c := catalog.New()
	c.Upsert(dnsname.Parse("example."), forwarderFor("example."))

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			c.Lookup(dnsname.Parse("host.example."))
		}()

		go func() {
			defer wg.Done()

			c.Upsert(dnsname.Parse("host.example."), forwarderFor("host.example."))
			c.Remove(dnsname.Parse("host.example."))
		}()
	}

	wg.Wait()
}
