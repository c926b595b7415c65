package dnsproxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/metrics"
	"github.com/polyresolver/polyresolver/internal/zoneerrors"
)

// tcpIdleTimeout is the idle timeout applied to TCP/DoT connections.
const tcpIdleTimeout = 1 * time.Second

// dotPort is the standard DoT port; bound only when a TLS cert+key pair is
// configured.
const dotPort = "853"

// dnsPort is the standard DNS port bound for both UDP and TCP.
const dnsPort = "53"

// Options configures the listener glue. When both TLSCertFile and
// TLSKeyFile are set, an additional TCP/853 DoT listener is bound.
type Options struct {
	ListenIP    string
	TLSCertFile string
	TLSKeyFile  string
}

// Server owns the bound UDP/TCP(/TLS) listeners and the Handler they serve.
//
// Grounded on a Proxy.Start pattern common to miekg/dns-based proxies: a
// pre-flight bind check via net.ListenConfig, one goroutine per
// dns.Server.ListenAndServe, and a shutdown goroutine waiting on
// ctx.Done().
type Server struct {
	handler *Handler
	opts    Options
	log     zerolog.Logger

	udp *dns.Server
	tcp *dns.Server
	dot *dns.Server
}

// NewServer returns a Server that will answer queries from cat once Start is
// called.
func NewServer(cat *catalog.Catalog, opts Options, log zerolog.Logger) *Server {
	if opts.ListenIP == "" {
		opts.ListenIP = "127.0.0.1"
	}

	return &Server{handler: NewHandler(cat, log), opts: opts, log: log}
}

// Start binds UDP/53 and TCP/53 (and, if a TLS cert+key are configured,
// TCP/853 for DoT) on opts.ListenIP, pre-flight-checking each bind before
// handing the sockets to miekg/dns, then serves until ctx is cancelled.
// Returns once the listener goroutines are launched; bind failures are
// returned synchronously as zoneerrors.ErrBind.
func (s *Server) Start(ctx context.Context) error {
	udpAddr := net.JoinHostPort(s.opts.ListenIP, dnsPort)
	tcpAddr := net.JoinHostPort(s.opts.ListenIP, dnsPort)

	if err := preflightBindPacket(ctx, "udp", udpAddr); err != nil {
		return err
	}

	if err := preflightBindStream(ctx, "tcp", tcpAddr); err != nil {
		return err
	}

	s.udp = &dns.Server{Addr: udpAddr, Net: "udp", Handler: s.handler}
	s.tcp = &dns.Server{
		Addr:        tcpAddr,
		Net:         "tcp",
		Handler:     s.handler,
		IdleTimeout: func() time.Duration { return tcpIdleTimeout },
	}

	s.log.Info().Str("udp", udpAddr).Str("tcp", tcpAddr).Msg("starting DNS listeners")

	go s.serve(s.udp)
	go s.serve(s.tcp)

	if s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != "" {
		if err := s.startDoT(ctx); err != nil {
			return err
		}
	}

	metrics.SetReady(true)

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down DNS listeners")
		s.shutdown()
		metrics.SetReady(false)
	}()

	return nil
}

func (s *Server) startDoT(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("%w: %w", zoneerrors.ErrBind, err)
	}

	dotAddr := net.JoinHostPort(s.opts.ListenIP, dotPort)

	if err := preflightBindStream(ctx, "tcp", dotAddr); err != nil {
		return err
	}

	s.dot = &dns.Server{
		Addr:        dotAddr,
		Net:         "tcp-tls",
		Handler:     s.handler,
		TLSConfig:   &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13},
		IdleTimeout: func() time.Duration { return tcpIdleTimeout },
	}

	s.log.Info().Str("dot", dotAddr).Msg("starting DoT listener")

	go s.serve(s.dot)

	return nil
}

func (s *Server) serve(srv *dns.Server) {
	if err := srv.ListenAndServe(); err != nil {
		s.log.Err(err).Str("net", srv.Net).Msg("dns listener error")
	}
}

func (s *Server) shutdown() {
	for _, srv := range []*dns.Server{s.udp, s.tcp, s.dot} {
		if srv == nil {
			continue
		}

		if err := srv.Shutdown(); err != nil {
			s.log.Err(err).Str("net", srv.Net).Msg("failed to shut down dns listener")
		}
	}
}

func preflightBindPacket(ctx context.Context, network, addr string) error {
	conn, err := (&net.ListenConfig{}).ListenPacket(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", zoneerrors.ErrBind, network, addr, err)
	}

	return conn.Close()
}

func preflightBindStream(ctx context.Context, network, addr string) error {
	l, err := (&net.ListenConfig{}).Listen(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", zoneerrors.ErrBind, network, addr, err)
	}

	return l.Close()
}
