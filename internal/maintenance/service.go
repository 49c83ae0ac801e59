// Package maintenance runs scheduled housekeeping for the record store.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/emostate/internal/db"
)

// Config controls transition log retention.
type Config struct {
	// Retention is how long transitions are kept. Zero keeps them forever.
	Retention    time.Duration `json:"retention" yaml:"retention"`
	Interval     time.Duration `json:"interval" yaml:"interval"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	Enabled      bool          `json:"enabled" yaml:"enabled"`
}

// DefaultConfig keeps a little over a year of history so anniversary
// resurgences stay explainable.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Retention:    400 * 24 * time.Hour,
		Interval:     24 * time.Hour,
		InitialDelay: 5 * time.Minute,
	}
}

// Stats are cumulative maintenance counters.
type Stats struct {
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
	TotalPruned  int64         `json:"total_pruned"`
	Runs         int64         `json:"runs"`
	Retention    time.Duration `json:"retention"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
}

// Service prunes old transitions on a schedule.
type Service struct {
	lastRun     time.Time
	pruner      db.TransitionPruner
	now         func() time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	log         zerolog.Logger
	config      Config
	lastElapsed time.Duration
	totalPruned int64
	runs        int64
	mu          sync.Mutex
	running     bool
}

// NewService creates a maintenance service.
func NewService(pruner db.TransitionPruner, cfg Config, log zerolog.Logger) *Service {
	if cfg.Interval < time.Hour {
		cfg.Interval = time.Hour
	}
	return &Service{
		pruner: pruner,
		config: cfg,
		now:    time.Now,
		log:    log.With().Str("component", "maintenance").Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the maintenance loop until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.config.Enabled || s.config.Retention <= 0 {
		s.log.Info().Msg("Transition retention disabled, not starting scheduler")
		return
	}

	s.log.Info().
		Dur("interval", s.config.Interval).
		Dur("retention", s.config.Retention).
		Msg("Starting maintenance scheduler")

	// Let the process settle before the first run.
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-time.After(s.config.InitialDelay):
	}
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop signals the service to stop.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait blocks until Start has returned.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunOnce prunes transitions older than the retention window and returns the
// number removed. Failures are logged, not returned.
func (s *Service) RunOnce(ctx context.Context) int64 {
	start := s.now()
	cutoff := start.Add(-s.config.Retention)

	pruned, err := s.pruner.PruneTransitions(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Time("cutoff", cutoff).Msg("Failed to prune transitions")
	}

	elapsed := time.Since(start)
	s.mu.Lock()
	s.lastRun = start
	s.lastElapsed = elapsed
	s.totalPruned += pruned
	s.runs++
	s.mu.Unlock()

	s.log.Info().
		Int64("pruned", pruned).
		Time("cutoff", cutoff).
		Dur("elapsed", elapsed).
		Msg("Maintenance run completed")
	return pruned
}

// GetStats returns maintenance statistics.
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LastRun:      s.lastRun,
		LastDuration: s.lastElapsed,
		TotalPruned:  s.totalPruned,
		Runs:         s.runs,
		Retention:    s.config.Retention,
		Enabled:      s.config.Enabled && s.config.Retention > 0,
		Running:      s.running,
	}
}
