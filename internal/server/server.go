// Package server exposes the operational HTTP endpoints: health, metrics and
// engine statistics. It carries no domain API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/thebtf/emostate/internal/decay"
	"github.com/thebtf/emostate/internal/engine"
	"github.com/thebtf/emostate/internal/maintenance"
	"github.com/thebtf/emostate/pkg/models"
)

// DefaultHTTPTimeout bounds every request.
const DefaultHTTPTimeout = 10 * time.Second

// EngineStats reports pipeline counters.
type EngineStats interface {
	Stats() engine.Stats
}

// DecayStats reports scheduler state.
type DecayStats interface {
	GetStats() decay.Stats
}

// MaintenanceStats reports retention runs.
type MaintenanceStats interface {
	GetStats() maintenance.Stats
}

// RecordCounter counts records per state.
type RecordCounter interface {
	CountByState(ctx context.Context) (map[models.Tier]int64, error)
}

// Check is one named health check. Detail, when set, reports extended
// status under the check's name on /stats.
type Check struct {
	Ping   func(ctx context.Context) error
	Detail func(ctx context.Context) any
	Name   string
}

// Options wires the server to its data sources. Nil sources are omitted
// from /stats.
type Options struct {
	Engine      EngineStats
	Decay       DecayStats
	Maintenance MaintenanceStats
	Records     RecordCounter
	Gatherer    prometheus.Gatherer
	Version     string
	Checks      []Check
}

// Server is the ops HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	opts   Options
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New builds the router.
func New(opts Options, logger zerolog.Logger) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: logger.With().Str("component", "ops-server").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// handleHealth pings every check. Any failure turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(s.opts.Checks))
	status := http.StatusOK
	for _, c := range s.opts.Checks {
		if err := c.Ping(r.Context()); err != nil {
			results[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	s.writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.opts.Version,
		"checks":  results,
	})
}

type statsResponse struct {
	Engine      *engine.Stats         `json:"engine,omitempty"`
	Decay       *decay.Stats          `json:"decay,omitempty"`
	Maintenance *maintenance.Stats    `json:"maintenance,omitempty"`
	Records     map[models.Tier]int64 `json:"records,omitempty"`
	Checks      map[string]any        `json:"checks,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.opts.Engine != nil {
		st := s.opts.Engine.Stats()
		resp.Engine = &st
	}
	if s.opts.Decay != nil {
		st := s.opts.Decay.GetStats()
		resp.Decay = &st
	}
	if s.opts.Maintenance != nil {
		st := s.opts.Maintenance.GetStats()
		resp.Maintenance = &st
	}
	if s.opts.Records != nil {
		counts, err := s.opts.Records.CountByState(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to count records")
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "count records failed"})
			return
		}
		resp.Records = counts
	}
	for _, c := range s.opts.Checks {
		if c.Detail == nil {
			continue
		}
		if resp.Checks == nil {
			resp.Checks = make(map[string]any)
		}
		resp.Checks[c.Name] = c.Detail(r.Context())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("Ops server started")
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}
