// Package adminhttp is the operator-facing HTTP surface carried alongside
// the DNS listeners: liveness/readiness, Prometheus metrics, a read-only
// catalog snapshot, a manual reload escape hatch, and a WebSocket feed of
// catalog mutations. This resolver forwards and routes only — no
// authoritative hosting, zone transfer, DNSSEC, dynamic updates, response
// caching, root recursion or negative synthesis — but operability surfaces
// like this one are orthogonal to that scope and ship next to the DNS
// listeners regardless.
//
// Grounded on internal/adminhttp/server.go (gorilla/mux routing, the
// conns map[*websocket.Conn]struct{} broadcast pattern, promhttp.Handler)
// and internal/dashboardhttp/middleware.go (the CORS/security-headers/
// recover chain), trimmed to the routes this service actually serves.
package adminhttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/polyresolver/polyresolver/internal/auth"
	"github.com/polyresolver/polyresolver/internal/catalog"
	"github.com/polyresolver/polyresolver/internal/metrics"
	"github.com/polyresolver/polyresolver/internal/reconciler"
	"github.com/polyresolver/polyresolver/internal/version"
	"github.com/polyresolver/polyresolver/internal/zoneconfig"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 10 * time.Second
	writeTimeout      = 15 * time.Second
	shutdownTimeout   = 5 * time.Second

	wsReadLimit    = 1024
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// Rescanner re-enumerates a config directory and pushes ConfigUpdate
// events onto a channel. Satisfied by *zonewatcher.Watcher.
type Rescanner interface {
	Rescan(out chan<- zoneconfig.ConfigUpdate) error
}

// Server is the admin HTTP surface. It never mutates the Catalog directly:
// POST /api/v1/reload re-drives the same ConfigUpdate channel the
// reconciler already consumes, so every mutation still goes through the
// reconciler's single-writer path.
type Server struct {
	addr      string
	router    *mux.Router
	catalog   *catalog.Catalog
	rec       *reconciler.Reconciler
	rescanner Rescanner
	updates   chan<- zoneconfig.ConfigUpdate
	auth      *auth.Service
	log       zerolog.Logger

	wsMu      sync.RWMutex
	wsWriteMu sync.Mutex
	conns     map[*websocket.Conn]struct{}

	startTime time.Time
}

// NewServer builds an admin server bound to addr, reading from cat and
// rec and re-driving manual reloads through rescanner/updates.
func NewServer(
	addr string,
	cat *catalog.Catalog,
	rec *reconciler.Reconciler,
	rescanner Rescanner,
	updates chan<- zoneconfig.ConfigUpdate,
	authSvc *auth.Service,
	log zerolog.Logger,
) *Server {
	s := &Server{
		addr:      addr,
		router:    mux.NewRouter(),
		catalog:   cat,
		rec:       rec,
		rescanner: rescanner,
		updates:   updates,
		auth:      authSvc,
		log:       log,
		conns:     make(map[*websocket.Conn]struct{}),
		startTime: time.Now(),
	}

	rec.SetNotifier(func(ev reconciler.Event) {
		s.broadcast(map[string]any{"type": "catalog_event", "data": ev})
	})

	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	api.Handle("/reload", auth.RequireBearer(s.auth)(http.HandlerFunc(s.handleReload))).Methods(http.MethodPost)
}

// Handler returns the fully wrapped HTTP handler (middleware chain plus the
// WebSocket upgrade path), for serving in tests without binding a socket.
func (s *Server) Handler() http.Handler {
	handler := s.buildMiddlewareChain()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/events" {
			s.handleEvents(w, r)

			return
		}

		handler.ServeHTTP(w, r)
	})
}

// Start binds addr and serves until ctx is cancelled. Returns once the
// listener goroutine is launched; a bind failure is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	_ = ln.Close()

	handler := s.buildMiddlewareChain()
	srv := s.newHTTPServer(ctx, handler)

	s.log.Info().Str("addr", s.addr).Str("version", version.GetVersion()).Msg("admin http listen")

	go func() { _ = srv.ListenAndServe() }()

	return nil
}

func (s *Server) newHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/events" {
			s.handleEvents(w, r)

			return
		}

		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           root,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}

func (s *Server) buildMiddlewareChain() http.Handler {
	var h http.Handler = s.router

	c := cors.New(cors.Options{AllowOriginFunc: func(string) bool { return true }, AllowedHeaders: []string{"*"}})
	h = c.Handler(h)

	sec := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	})
	h = sec.Handler(h)

	limiter := rate.NewLimiter(rate.Limit(20), 40) //nolint:mnd // admin surface rate limit
	h = rateLimit(limiter, h)

	h = instrumentedAccessLog(s.log, h)
	h = chimw.RequestID(h)
	h = chimw.RealIP(h)
	h = chimw.Recoverer(h)

	return otelhttp.NewHandler(h, "adminhttp")
}

func rateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]string{"error": "rate limit exceeded"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func instrumentedAccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	h := hlog.NewHandler(log)(next)

	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		metrics.RecordHTTP(r.Method, r.URL.Path, status)
		log.Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("admin http")
	})(h)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"status": "ok",
		"ready":  metrics.IsReady(),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

type zoneDTO struct {
	Name       string   `json:"name"`
	Forwarders []string `json:"forwarders"`
	Protocol   string   `json:"protocol"`
}

// handleZones returns a read-only snapshot of the current catalog, for
// operational visibility. Does not expose resolver internals (sockets,
// pools) — only the domain/forwarders/protocol each zone routes through.
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot()

	zones := make([]zoneDTO, 0, len(snap))
	for _, z := range snap {
		zones = append(zones, zoneDTO{Name: z.Name, Forwarders: z.UpstreamAddrs, Protocol: z.Protocol})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"zones": zones, "count": len(zones)})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})

		return
	}

	token, err := s.auth.Login(req.Password)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "invalid credentials"})

		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"access_token": token})
}

// handleReload forces an out-of-band rescan of the config directory. The
// automatic fsnotify path remains the primary reload mechanism; this is a
// JWT-protected operator escape hatch and the only mutating endpoint on
// this surface.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.rescanner.Rescan(s.updates); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": err.Error()})

		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "rescan queued"})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }} //nolint:gochecknoglobals

// handleEvents upgrades to a WebSocket and streams one JSON event per
// catalog upsert/remove. On connect it first replays the reconciler's
// bounded history ring as backlog.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")

		return
	}

	s.wsMu.Lock()
	s.conns[conn] = struct{}{}
	s.wsMu.Unlock()

	s.sendJSON(conn, map[string]any{"type": "backlog", "data": s.rec.History()})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		return nil
	})

	go s.pingLoop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.wsMu.Lock()
	delete(s.conns, conn)
	s.wsMu.Unlock()

	_ = conn.Close()
}

func (s *Server) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsPingTimeout)); err != nil {
			return
		}
	}
}

func (s *Server) sendJSON(conn *websocket.Conn, v any) {
	s.wsWriteMu.Lock()
	defer s.wsWriteMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(v)
}

func (s *Server) broadcast(v any) {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	var wg sync.WaitGroup

	for conn := range s.conns {
		wg.Add(1)

		go func(c *websocket.Conn) {
			defer wg.Done()
			s.sendJSON(c, v)
		}(conn)
	}

	wg.Wait()
}
