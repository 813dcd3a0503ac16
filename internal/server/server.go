// Package server hosts the icenimbus read API on a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/internal/apperrors"
	"github.com/3leaps/icenimbus/internal/server/handlers"
	"github.com/3leaps/icenimbus/internal/server/middleware"
	"github.com/3leaps/icenimbus/pkg/metrics"
)

// Option configures a Server.
type Option func(*Server)

// WithTables serves the /v1/table endpoints from tables.
func WithTables(tables handlers.Tables) Option {
	return func(s *Server) { s.tables = tables }
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsEndpoint controls whether /metrics is served on this router.
// Requests are still instrumented when it is off, for a collector exposed
// on a separate listener.
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) { s.metricsRoute = enabled }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets what /version reports.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithTimeouts sets the http.Server timeouts. Zero values keep defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// WithPprof mounts net/http/pprof under /debug.
func WithPprof(enabled bool) Option {
	return func(s *Server) { s.pprof = enabled }
}

// Server is the HTTP read API.
type Server struct {
	host string
	port int

	tables       handlers.Tables
	metrics      *metrics.Metrics
	metricsRoute bool
	logger       *zap.Logger
	version      handlers.VersionInfo
	pprof        bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router     chi.Router
	httpServer *http.Server
}

// New builds a server listening on host:port once Start is called.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		version:      handlers.VersionInfo{Version: "dev"},
		metricsRoute: true,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery)
	r.Use(s.metrics.Middleware)

	r.NotFound(apperrors.NotFoundHandler)
	r.MethodNotAllowed(apperrors.MethodNotAllowedHandler)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.metrics != nil && s.metricsRoute {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.pprof {
		r.Mount("/debug", chimw.Profiler())
	}

	th := handlers.NewTableHandler(s.tables, s.logger)
	r.Get("/v1/table", th.Metadata)
	r.Get("/v1/table/snapshots", th.Snapshots)
	r.Get("/v1/table/manifests", th.Manifests)
	r.Get("/v1/table/files", th.Files)
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("read API listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
