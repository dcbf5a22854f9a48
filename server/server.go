// Package server implements the conduit dashboard: the JSON API, the HTML
// pages, session handling, SSE notifications and metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/conduit/auth"
	"github.com/GoCodeAlone/conduit/config"
	"github.com/GoCodeAlone/conduit/dashboard"
	"github.com/GoCodeAlone/conduit/events"
	"github.com/GoCodeAlone/conduit/server/api"
	"github.com/GoCodeAlone/conduit/server/ws"
	"github.com/GoCodeAlone/conduit/task"
)

// Server is the conduit dashboard HTTP server.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *zap.Logger

	auth     *auth.StaticAuthenticator
	tasks    task.Store
	bus      events.Bus
	hub      *ws.Hub
	listing  *dashboard.Listing
	handlers *api.Handlers
	pages    *pages
	limiter  *loginLimiter
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	buildOnce sync.Once
	handler   http.Handler
	detach    func()

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg *config.Config, ver string, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger,
		auth: auth.NewStatic(auth.Config{
			AdminUser:     cfg.Auth.AdminUser,
			AdminPass:     cfg.Auth.AdminPass,
			Secret:        cfg.Auth.JWTSecret,
			TTL:           cfg.Auth.TokenTTL.D(),
			EnforceExpiry: cfg.Auth.EnforceExpiry,
		}),
		limiter:   newLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst),
		startTime: time.Now(),
		version:   ver,
	}
}

// SetTaskStore attaches the task service client. Call before Handler.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetBus attaches a notification bus. A private bus is created when unset.
func (s *Server) SetBus(bus events.Bus) {
	s.bus = bus
}

// SetRegistry sets the registry served on /metrics. Collectors registered on
// it elsewhere (such as the task client metrics) are exposed as well.
func (s *Server) SetRegistry(reg *prometheus.Registry) {
	s.registry = reg
}

// Listing returns the dashboard listing, building the server if needed.
func (s *Server) Listing() *dashboard.Listing {
	s.Handler()
	return s.listing
}

// Handler builds the routes once and returns the root handler.
func (s *Server) Handler() http.Handler {
	s.buildOnce.Do(s.build)
	return s.handler
}

func (s *Server) build() {
	if s.bus == nil {
		s.bus = events.NewInMemoryBus(0)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conduit_http_requests_total",
		Help: "Dashboard HTTP requests by method and status code.",
	}, []string{"method", "code"})
	s.registry.MustRegister(s.requests)

	s.hub = ws.NewHub(s.logger.Named("sse"))
	s.detach = s.hub.Attach(s.bus)

	s.listing = dashboard.NewListing(s.tasks, dashboard.Options{
		Logger:       s.logger.Named("dashboard"),
		Bus:          s.bus,
		DismissDelay: s.cfg.Dashboard.DismissDelay.D(),
	})
	s.pages = mustLoadPages()
	s.registerRoutes()

	s.handler = s.requestLogger(promhttp.InstrumentHandlerCounter(s.requests, s.mux))
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", zap.String("addr", addr), zap.String("backend", s.cfg.Backend.URL))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.detach != nil {
		s.detach()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Tasks:      s.tasks,
		Listing:    s.listing,
		Logger:     s.logger.Named("api"),
		Version:    s.version,
		BackendURL: s.cfg.Backend.URL,
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Protected API
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)
	s.mux.Handle("/api/", s.authMiddleware(apiMux))
	s.mux.Handle("GET /events", s.authMiddleware(http.HandlerFunc(s.hub.ServeSSE)))

	s.registerPages()
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
