// Package decay ages state records on a schedule: inactive records go
// dormant, expired short-term events are dropped, and mid/long-term
// stability is refreshed.
package decay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/internal/metrics"
	"github.com/thebtf/emostate/internal/state"
	"github.com/thebtf/emostate/pkg/models"
)

// RecordProvider is the subset of record store methods needed by the scheduler.
type RecordProvider interface {
	ListKeys(ctx context.Context) ([]models.Key, error)
	GetState(ctx context.Context, key models.Key) (*models.StateRecord, error)
	SaveState(ctx context.Context, rec *models.StateRecord, transitions []models.TransitionEvent) error
}

// Locker serializes mutations per key. The scheduler holds the lock for the
// whole evaluation of one record.
type Locker interface {
	LockContext(ctx context.Context, key models.Key) (func(), error)
}

// WindowProvider exposes a key's signal windows. Callers hold the key lock.
type WindowProvider interface {
	// Aggregates returns the key's current aggregates, loading persisted
	// windows if needed. The boolean is false when no window data exists.
	Aggregates(ctx context.Context, key models.Key) (models.Aggregates, bool)
	// ExpireShortTerm drops short-term events older than cutoff and returns
	// how many were removed.
	ExpireShortTerm(ctx context.Context, key models.Key, cutoff time.Time) (int, error)
}

// Config contains scheduling intervals and thresholds.
type Config struct {
	// Interval is the period between sweeps (default 6h).
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Parallelism bounds how many records are evaluated at once (default 4).
	Parallelism int `json:"parallelism" yaml:"parallelism"`
	// ShortTermHorizon is the age after which short-term events are dropped
	// regardless of window size (default 14 days).
	ShortTermHorizon time.Duration `json:"short_term_horizon" yaml:"short_term_horizon"`
	// StabilityInterval is the minimum time between stability recomputations
	// of one record (default 24h).
	StabilityInterval time.Duration `json:"stability_interval" yaml:"stability_interval"`
	// RunOnStart sweeps once immediately when the scheduler starts.
	RunOnStart bool            `json:"run_on_start" yaml:"run_on_start"`
	Relevance  RelevanceConfig `json:"relevance" yaml:"relevance"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          6 * time.Hour,
		Parallelism:       4,
		ShortTermHorizon:  14 * 24 * time.Hour,
		StabilityInterval: 24 * time.Hour,
		RunOnStart:        true,
		Relevance:         DefaultRelevanceConfig(),
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	StartedAt        time.Time     `json:"started_at"`
	Elapsed          time.Duration `json:"elapsed"`
	Scanned          int64         `json:"scanned"`
	Dormant          int64         `json:"dormant"`
	ExpiredEvents    int64         `json:"expired_events"`
	StabilityUpdated int64         `json:"stability_updated"`
	Failed           int64         `json:"failed"`
	Interrupted      bool          `json:"interrupted"`
}

// Scheduler runs decay sweeps on a schedule.
type Scheduler struct {
	lastSweep SweepResult
	store     RecordProvider
	locks     Locker
	windows   WindowProvider
	machine   *state.Machine
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	config    Config
	mu        sync.Mutex
	sweepMu   sync.Mutex
	running   bool
}

// NewScheduler creates a new decay scheduler. m may be nil.
func NewScheduler(
	store RecordProvider,
	locks Locker,
	windows WindowProvider,
	machine *state.Machine,
	m *metrics.Metrics,
	config Config,
	logger zerolog.Logger,
) *Scheduler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Parallelism <= 0 {
		config.Parallelism = def.Parallelism
	}
	return &Scheduler{
		store:   store,
		locks:   locks,
		windows: windows,
		machine: machine,
		metrics: m,
		config:  config,
		logger:  logger.With().Str("component", "decay-scheduler").Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sweep loop. Call from a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
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

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("parallelism", s.config.Parallelism).
		Msg("Decay scheduler started")

	if s.config.RunOnStart {
		s.sweepAndLog(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Decay scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("Decay scheduler stopping (stop signal)")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

// Stop signals the scheduler to shut down and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	select {
	case <-s.stopCh:
		// Already stopped
		return
	default:
		close(s.stopCh)
	}
	if running {
		<-s.doneCh
	}
}

func (s *Scheduler) sweepAndLog(ctx context.Context) {
	if _, err := s.Sweep(ctx, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("Decay sweep failed")
	}
}

// Sweep evaluates every record once at now. Per-record failures are logged
// and counted, never returned; the error is non-nil only when the key scan
// itself fails. Cancelling ctx stops the sweep at a record boundary.
// Concurrent calls are serialized.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	res := SweepResult{StartedAt: now}

	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return res, err
	}

	var scanned, dormant, expired, stability, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.config.Parallelism)
	for _, key := range keys {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out, err := s.sweepRecord(ctx, key, now)
			scanned.Add(1)
			if err != nil {
				failed.Add(1)
				s.metrics.SweepRecord(metrics.OutcomeFailed)
				s.logger.Warn().Err(err).
					Str("user", key.UserID).
					Str("topic", key.TopicID).
					Msg("Decay failed for record, will retry next sweep")
				return nil
			}
			expired.Add(int64(out.expired))
			if out.expired > 0 {
				s.metrics.SweepRecord(metrics.OutcomeExpired)
			}
			if out.dormant {
				dormant.Add(1)
				s.metrics.SweepRecord(metrics.OutcomeDormant)
			}
			if out.stability {
				stability.Add(1)
				s.metrics.SweepRecord(metrics.OutcomeStability)
			}
			if !out.dormant && !out.stability && out.expired == 0 {
				s.metrics.SweepRecord(metrics.OutcomeUnchanged)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		res.Interrupted = true
	}
	res.Scanned = scanned.Load()
	res.Dormant = dormant.Load()
	res.ExpiredEvents = expired.Load()
	res.StabilityUpdated = stability.Load()
	res.Failed = failed.Load()
	res.Elapsed = time.Since(start)

	s.metrics.Sweep(res.Elapsed)
	s.mu.Lock()
	s.lastSweep = res
	s.mu.Unlock()

	s.logger.Info().
		Int64("scanned", res.Scanned).
		Int64("dormant", res.Dormant).
		Int64("expired_events", res.ExpiredEvents).
		Int64("stability", res.StabilityUpdated).
		Int64("failed", res.Failed).
		Bool("interrupted", res.Interrupted).
		Dur("elapsed", res.Elapsed).
		Msg("Decay sweep complete")

	return res, nil
}

type recordOutcome struct {
	expired   int
	dormant   bool
	stability bool
}

// sweepRecord evaluates one record under its key lock.
func (s *Scheduler) sweepRecord(ctx context.Context, key models.Key, now time.Time) (recordOutcome, error) {
	var out recordOutcome

	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return out, err
	}
	defer unlock()

	rec, err := s.store.GetState(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if s.config.ShortTermHorizon > 0 {
		n, err := s.windows.ExpireShortTerm(ctx, key, now.Add(-s.config.ShortTermHorizon))
		if err != nil {
			return out, err
		}
		out.expired = n
	}

	aggs, haveWindows := s.windows.Aggregates(ctx, key)

	var transitions []models.TransitionEvent
	changed := false

	if s.machine.IsInactive(rec, now) {
		res := s.machine.MarkDormant(rec, profileFor(rec.Tier, aggs, haveWindows), now)
		rec = res.Record
		transitions = res.Transitions
		changed = true
		out.dormant = true
	}

	if !rec.Dormant && haveWindows && s.stabilityDue(rec, now) {
		rec.Stability = nextStability(rec.Stability, aggs, now)
		changed = true
		out.stability = true
	}

	if !changed {
		return out, nil
	}

	if err := s.store.SaveState(ctx, rec, transitions); err != nil {
		return recordOutcome{expired: out.expired}, err
	}
	for _, ev := range transitions {
		s.metrics.Transition(ev)
		s.logger.Info().
			Str("user", ev.UserID).
			Str("topic", ev.TopicID).
			Str("from", string(ev.From)).
			Str("to", string(ev.To)).
			Str("reason", string(ev.Reason)).
			Msg("State transition")
	}
	return out, nil
}

func (s *Scheduler) stabilityDue(rec *models.StateRecord, now time.Time) bool {
	if rec.Stability.ComputedAt.IsZero() {
		return true
	}
	return now.Sub(rec.Stability.ComputedAt) >= s.config.StabilityInterval
}

// nextStability recomputes mid/long-term volatility. The trend is the change
// since the previous computation; the first computation has no trend.
func nextStability(prev models.Stability, aggs models.Aggregates, now time.Time) models.Stability {
	next := models.Stability{
		ComputedAt:   now,
		MTVolatility: aggs[models.HorizonMT].Volatility,
		LTVolatility: aggs[models.HorizonLT].Volatility,
	}
	if !prev.ComputedAt.IsZero() {
		next.MTTrend = next.MTVolatility - prev.MTVolatility
		next.LTTrend = next.LTVolatility - prev.LTVolatility
	}
	return next
}

// profileFor picks the aggregate distribution matching the tier.
func profileFor(t models.Tier, aggs models.Aggregates, ok bool) models.Distribution {
	if !ok {
		return models.Distribution{}
	}
	h := models.HorizonST
	switch t {
	case models.TierMT:
		h = models.HorizonMT
	case models.TierLT:
		h = models.HorizonLT
	}
	if aggs[h].Empty {
		return models.Distribution{}
	}
	return aggs[h].Distribution
}

// Stats describes the scheduler state.
type Stats struct {
	LastSweep SweepResult   `json:"last_sweep"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:   s.running,
		Interval:  s.config.Interval,
		LastSweep: s.lastSweep,
	}
}
