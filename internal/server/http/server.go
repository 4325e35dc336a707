// Package httpserver provides the ops HTTP server of the harvester: health,
// readiness, run status and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-harvester/internal/database"
	"github.com/helixir/paper-harvester/internal/harvest"
	"github.com/helixir/paper-harvester/internal/proxypool"
	"github.com/helixir/paper-harvester/internal/scheduler"
)

// DefaultMetricsPath is used when Config.MetricsPath is empty.
const DefaultMetricsPath = "/metrics"

// Pinger reports database reachability.
type Pinger interface {
	Health(ctx context.Context) database.HealthStatus
}

// PoolStats exposes proxy pool counters.
type PoolStats interface {
	Stats() proxypool.Stats
}

// SchedulerStats exposes scheduler counters.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// SummaryProvider exposes the harvest run summary.
type SummaryProvider interface {
	Summary() *harvest.Summary
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MetricsPath is where promhttp is mounted; empty disables it.
	MetricsPath string
}

// Server is the ops HTTP server. Every provider is optional.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	db         Pinger
	pool       PoolStats
	scheduler  SchedulerStats
	summary    SummaryProvider
	metrics    http.Handler
	started    time.Time
	logger     zerolog.Logger
}

// Option configures optional Server providers.
type Option func(*Server)

// WithDatabase makes /readyz depend on the database.
func WithDatabase(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// WithPool adds proxy pool stats to /status.
func WithPool(p PoolStats) Option {
	return func(s *Server) { s.pool = p }
}

// WithScheduler adds scheduler stats to /status.
func WithScheduler(sch SchedulerStats) Option {
	return func(s *Server) { s.scheduler = sch }
}

// WithSummary adds the harvest summary to /status.
func WithSummary(sp SummaryProvider) Option {
	return func(s *Server) { s.summary = sp }
}

// WithMetricsHandler replaces the default promhttp handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates the ops server.
func NewServer(cfg Config, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		metrics: promhttp.Handler(),
		started: time.Now(),
		logger:  logger.With().Str("component", "http-server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.buildRouter(cfg.MetricsPath)
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	r.Get("/status", s.statusHandler)
	if metricsPath != "" {
		r.Handle(metricsPath, s.metrics)
	}
	return r
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

type statusResponse struct {
	Uptime    string           `json:"uptime"`
	Pool      *proxypool.Stats `json:"proxy_pool,omitempty"`
	Scheduler *scheduler.Stats `json:"scheduler,omitempty"`
	Harvest   *harvest.Summary `json:"harvest,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Uptime: time.Since(s.started).Truncate(time.Second).String()}
	if s.pool != nil {
		st := s.pool.Stats()
		resp.Pool = &st
	}
	if s.scheduler != nil {
		st := s.scheduler.Stats()
		resp.Scheduler = &st
	}
	if s.summary != nil {
		resp.Harvest = s.summary.Summary()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
