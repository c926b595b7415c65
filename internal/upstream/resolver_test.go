package upstream_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyresolver/polyresolver/internal/upstream"
	"github.com/polyresolver/polyresolver/internal/zoneconfig"
)

// startStubServer runs a UDP DNS server on 127.0.0.1:53 (the resolver's
// fixed upstream port) answering every query with rcode. Skips the calling
// test if port 53 cannot be bound in this environment.
func startStubServer(t *testing.T, rcode int) (shutdown func()) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:53")
	if err != nil {
		t.Skipf("cannot bind 127.0.0.1:53 in this environment: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		_ = w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}

	go func() { _ = srv.ActivateAndServe() }()

	return func() { _ = srv.Shutdown() }
}

func newQuery(name string) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)

	return q
}

func TestResolveTrustsNXDOMAIN(t *testing.T) {
	shutdown := startStubServer(t, dns.RcodeNameError)
	defer shutdown()

	cfg := &zoneconfig.Config{Forwarders: []net.IP{net.ParseIP("127.0.0.1")}, Protocol: zoneconfig.ProtocolUDP}

	r, err := upstream.BuildResolver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := r.Resolve(ctx, newQuery("example.com."))
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, out.Rcode)
}

func TestResolveRotatesOnTransportFailure(t *testing.T) {
	shutdown := startStubServer(t, dns.RcodeSuccess)
	defer shutdown()

	// The first forwarder (192.0.2.1, TEST-NET-1, unroutable) must never
	// answer; the resolver should advance rotation to the second, reachable
	// forwarder rather than surfacing the transport failure.
	cfg := &zoneconfig.Config{
		Forwarders: []net.IP{net.ParseIP("192.0.2.1"), net.ParseIP("127.0.0.1")},
		Protocol:   zoneconfig.ProtocolUDP,
	}

	r, err := upstream.BuildResolver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := r.Resolve(ctx, newQuery("example.com."))
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, out.Rcode)
}

func TestBuildResolverRejectsUnknownProtocol(t *testing.T) {
	cfg := &zoneconfig.Config{Forwarders: []net.IP{net.ParseIP("127.0.0.1")}, Protocol: zoneconfig.Protocol("quic")}

	_, err := upstream.BuildResolver(cfg)
	require.Error(t, err)
}

func TestResolveRejectsMultiQuestion(t *testing.T) {
	cfg := &zoneconfig.Config{Forwarders: []net.IP{net.ParseIP("127.0.0.1")}, Protocol: zoneconfig.ProtocolUDP}

	r, err := upstream.BuildResolver(cfg)
	require.NoError(t, err)

	q := new(dns.Msg)
	q.Question = []dns.Question{
		{Name: "a.", Qtype: dns.TypeA, Qclass: dns.ClassINET},
		{Name: "b.", Qtype: dns.TypeA, Qclass: dns.ClassINET},
	}

	_, err = r.Resolve(context.Background(), q)
	require.Error(t, err)
}
