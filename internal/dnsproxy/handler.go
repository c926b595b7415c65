// Package dnsproxy implements the query handler (C5): for each incoming DNS
// request, a longest-suffix catalog lookup followed by a forward through the
// matched zone's upstream resolver.
//
// Grounded on a handleDNS pattern common to miekg/dns-based proxies: a
// panic-recovery wrapper around a dns.HandlerFunc that falls back to
// dns.HandleFailed on error, served through github.com/miekg/dns's
// dns.Server; the wire codec and server framework are external
// collaborators, out of scope for this package.
package dnsproxy

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/dnsname"
	"github.com/polyresolver/polyresolver/internal/metrics"
)

// Handler answers DNS requests by longest-suffix lookup against a Catalog.
type Handler struct {
	catalog *catalog.Catalog
	log     zerolog.Logger
}

// NewHandler returns a Handler serving queries from cat.
func NewHandler(cat *catalog.Catalog, log zerolog.Logger) *Handler {
	return &Handler{catalog: cat, log: log}
}

// ServeDNS implements dns.Handler, with a panic-recovery wrapper: a
// recovered panic is logged and answered with dns.HandleFailed rather than
// crashing the listener goroutine.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Interface("panic", rec).Msg("dns handler panic recovered")
			dns.HandleFailed(w, r)
		}
	}()

	start := time.Now()
	resp := h.resolve(context.Background(), r)

	if metrics.M.ResolveDuration != nil {
		metrics.M.ResolveDuration.Observe(time.Since(start).Seconds())
	}

	if metrics.M.Queries != nil {
		metrics.M.Queries.Inc()
	}

	_ = w.WriteMsg(resp)
}

// resolve implements the C5 contract for a single request carrying exactly
// one question. It never returns nil.
func (h *Handler) resolve(ctx context.Context, r *dns.Msg) *dns.Msg {
	if r.Opcode == dns.OpcodeUpdate {
		return refuse(r, dns.RcodeNotImplemented)
	}

	if len(r.Question) != 1 {
		return refuse(r, dns.RcodeFormatError)
	}

	q := r.Question[0]

	switch q.Qtype {
	case dns.TypeAXFR, dns.TypeIXFR:
		// Zone type is always Forward: zone transfer is never allowed.
		return refuse(r, dns.RcodeRefused)
	case dns.TypeNSEC, dns.TypeNSEC3:
		// Unsupported; do not attempt forwarding.
		return refuse(r, dns.RcodeNotImplemented)
	}

	forwarder := h.catalog.Lookup(dnsname.Parse(q.Name))
	if forwarder == nil {
		return refuse(r, dns.RcodeServerFailure)
	}

	out, err := forwarder.Resolver.Resolve(ctx, r)
	if err != nil {
		h.recordError(err)

		return refuse(r, dns.RcodeServerFailure)
	}

	// Upstream NXDOMAIN/NODATA are not errors; pass the response through
	// unchanged. Never populate the additional section beyond what the
	// upstream returned.
	out.Id = r.Id
	out.Response = true

	return out
}

func (h *Handler) recordError(err error) {
	// Every resolve error is answered with SERVFAIL; label it by that RCODE.
	metrics.IncResolveError(dns.RcodeToString[dns.RcodeServerFailure])
	h.log.Debug().Err(err).Msg("upstream resolve failed")
}

func refuse(r *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(r, rcode)

	return m
}
