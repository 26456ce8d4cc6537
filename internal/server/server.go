// Package server provides the HTTP API for semcache.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/cache"
	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/decision"
	"github.com/hyperjump/semcache/internal/metrics"
	"github.com/hyperjump/semcache/internal/seed"
)

// Server is the HTTP server for the semcache API.
type Server struct {
	decider *decision.Engine
	cache   *cache.Engine
	seeder  *seed.Seeder
	tally   *decision.Tally
	metrics metrics.Metrics
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request and decision metrics and serves them on /metrics.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTally reports hit and miss counts from t on /api/v1/stats.
func WithTally(t *decision.Tally) Option {
	return func(s *Server) { s.tally = t }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	decider *decision.Engine,
	cacheEngine *cache.Engine,
	seeder *seed.Seeder,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		decider: decider,
		cache:   cacheEngine,
		seeder:  seeder,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(s.observe)

	r.Post("/api/v1/query", s.handleQuery)
	r.Post("/api/v1/records", s.handleStoreRecord)
	r.Delete("/api/v1/cache", s.handleClear)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// observe records per-route latency and status.
func (s *Server) observe(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveAPIEndpointDuration(route, r.Method, fmt.Sprint(status), time.Since(start).Seconds())
	})
}
