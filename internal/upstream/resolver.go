// Package upstream implements the resolver factory (C3): turning one
// zoneconfig.Config into an upstream resolver that talks to that zone's
// forwarders over the configured transport.
//
// Grounded on a per-protocol strategy pattern (udp_strategy.go,
// tcp_strategy.go, dot_strategy.go, upstream_resolver.go style): one
// *dns.Client configured per protocol. Unlike a ChainResolver that falls
// through to the next upstream on any empty or erroring response, this
// resolver honors "trust NX responses": an authoritative response actually
// received from an upstream is final for that query, and only a
// transport-level failure advances rotation.
package upstream

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/polyresolver/polyresolver/internal/zoneconfig"
	"github.com/polyresolver/polyresolver/internal/zoneerrors"
)

// queryTimeout is the fixed per-query upstream timeout.
const queryTimeout = 1 * time.Second

// upstreamPort is the fixed upstream port regardless of transport.
const upstreamPort = "53"

// Resolver is an opaque handle to the DNS client pool addressing one
// Config's forwarders. It has no cache: positive/negative TTL bounds are
// pinned to zero by never storing anything.
type Resolver struct {
	client *dns.Client
	addrs  []string
	cursor atomic.Uint32
	group  singleflight.Group
}

// BuildResolver constructs a Resolver from cfg: one shared *dns.Client
// configured for cfg.Protocol, round-robin across cfg.Forwarders, rotation
// enabled, /etc/hosts consultation disabled (this client never reads it),
// response cache disabled (nothing is ever stored).
func BuildResolver(cfg *zoneconfig.Config) (*Resolver, error) {
	client, err := clientFor(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(cfg.Forwarders))
	for _, ip := range cfg.Forwarders {
		addrs = append(addrs, net.JoinHostPort(ip.String(), upstreamPort))
	}

	return &Resolver{client: client, addrs: addrs}, nil
}

func clientFor(proto zoneconfig.Protocol) (*dns.Client, error) {
	switch proto {
	case zoneconfig.ProtocolUDP:
		return &dns.Client{Net: "udp", Timeout: queryTimeout}, nil
	case zoneconfig.ProtocolTCP:
		return &dns.Client{Net: "tcp", Timeout: queryTimeout}, nil
	case zoneconfig.ProtocolTLS:
		return &dns.Client{Net: "tcp-tls", Timeout: queryTimeout}, nil
	default:
		return nil, &zoneerrors.FactoryError{Config: string(proto), Reason: "unknown protocol"}
	}
}

// Resolve forwards q to this zone's upstreams, rotating round-robin and
// trying the next forwarder only on a transport-level failure. A response
// actually received from an upstream — including NXDOMAIN or NODATA — is
// trusted and returned immediately, never retried against another
// forwarder. Concurrent identical in-flight queries (same name, qtype and
// class) are coalesced via singleflight so only one of them reaches the
// network; the rest share its result without it ever being stored.
func (r *Resolver) Resolve(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	if len(q.Question) != 1 {
		return nil, &zoneerrors.UpstreamError{Upstream: "n/a", Reason: "exactly one question required"}
	}

	key := dedupeKey(q)

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.exchangeWithRotation(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	out, _ := v.(*dns.Msg)

	return out.Copy(), nil
}

func (r *Resolver) exchangeWithRotation(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	n := len(r.addrs)
	start := int(r.cursor.Add(1)-1) % n

	var lastErr error

	for i := range n {
		addr := r.addrs[(start+i)%n]

		out, _, err := r.client.ExchangeContext(ctx, q, addr)
		if err != nil {
			lastErr = &zoneerrors.UpstreamError{Upstream: addr, Reason: err.Error()}

			continue
		}

		return out, nil
	}

	return nil, lastErr
}

func dedupeKey(q *dns.Msg) string {
	question := q.Question[0]

	return fmt.Sprintf("%s:%d:%d", question.Name, question.Qtype, question.Qclass)
}
