// Package engine runs the signal pipeline: validate, aggregate, score,
// classify, transition and persist, one key at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/emostate/internal/cache"
	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/internal/decay"
	"github.com/thebtf/emostate/internal/keylock"
	"github.com/thebtf/emostate/internal/metrics"
	"github.com/thebtf/emostate/internal/projection"
	"github.com/thebtf/emostate/internal/scoring"
	"github.com/thebtf/emostate/internal/signal"
	"github.com/thebtf/emostate/internal/state"
	"github.com/thebtf/emostate/internal/window"
	"github.com/thebtf/emostate/pkg/models"
)

// DefaultCacheTTL is how long short-term aggregates and window snapshots
// live in the TTL cache.
const DefaultCacheTTL = 14 * 24 * time.Hour

// DefaultHistoryLimit bounds History when the caller passes no limit.
const DefaultHistoryLimit = 50

// Config groups the tuning of every pipeline stage.
type Config struct {
	Scoring   *models.ScoringConfig `json:"scoring" yaml:"scoring"`
	Window    window.Config         `json:"window" yaml:"window"`
	Signal    signal.Config         `json:"signal" yaml:"signal"`
	State     state.Config          `json:"state" yaml:"state"`
	Relevance decay.RelevanceConfig `json:"relevance" yaml:"relevance"`
	CacheTTL  time.Duration         `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Scoring:   models.DefaultScoringConfig(),
		Window:    window.DefaultConfig(),
		Signal:    signal.DefaultConfig(),
		State:     state.DefaultConfig(),
		Relevance: decay.DefaultRelevanceConfig(),
		CacheTTL:  DefaultCacheTTL,
	}
}

// Result describes the effect of one ingested signal.
type Result struct {
	Record      *models.StateRecord      `json:"record"`
	Event       models.SignalEvent       `json:"event"`
	Transitions []models.TransitionEvent `json:"transitions,omitempty"`
	Aggregates  models.Aggregates        `json:"aggregates"`
	Score       scoring.ScoreComponents  `json:"score"`
	Tier        models.Tier              `json:"tier"`
	Duplicate   bool                     `json:"duplicate,omitempty"`
}

// Stats are cumulative engine counters.
type Stats struct {
	Accepted      int64 `json:"accepted"`
	Duplicates    int64 `json:"duplicates"`
	Malformed     int64 `json:"malformed"`
	LowConfidence int64 `json:"low_confidence"`
	Conflicts     int64 `json:"conflicts"`
	Failed        int64 `json:"failed"`
	Transitions   int64 `json:"transitions"`
	LoadedKeys    int   `json:"loaded_keys"`
	LockedKeys    int   `json:"locked_keys"`
}

type counters struct {
	accepted      atomic.Int64
	duplicates    atomic.Int64
	malformed     atomic.Int64
	lowConfidence atomic.Int64
	conflicts     atomic.Int64
	failed        atomic.Int64
	transitions   atomic.Int64
}

// Engine owns the per-key pipeline. It is safe for concurrent use; work on
// one key is serialized, different keys proceed in parallel.
type Engine struct {
	store     db.RecordStore
	kv        cache.Store
	adapter   *signal.Adapter
	windows   *window.Aggregator
	scorer    *scoring.Calculator
	machine   *state.Machine
	relevance *decay.RelevanceCalculator
	builder   *projection.Builder
	locks     *keylock.Map[models.Key]
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger
	stats     counters
	cacheTTL  time.Duration
}

// New creates an engine. kv and m may be nil; without a cache, windows live
// only in process memory.
func New(store db.RecordStore, kv cache.Store, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Scoring == nil {
		cfg.Scoring = def.Scoring
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	e := &Engine{
		store:     store,
		kv:        kv,
		adapter:   signal.NewAdapter(cfg.Signal),
		windows:   window.New(cfg.Window),
		scorer:    scoring.NewCalculator(cfg.Scoring),
		machine:   state.NewMachine(cfg.State),
		relevance: decay.NewRelevanceCalculator(cfg.Relevance),
		locks:     keylock.New[models.Key](),
		metrics:   m,
		now:       time.Now,
		logger:    logger.With().Str("component", "engine").Logger(),
		cacheTTL:  cfg.CacheTTL,
	}
	e.builder = projection.NewBuilder(store, readerWindows{e: e, group: &singleflight.Group{}}, e.relevance, logger)
	return e
}

// Adapter returns the signal adapter used for validation.
func (e *Engine) Adapter() *signal.Adapter {
	return e.adapter
}

// IngestRaw normalizes raw and ingests the resulting event.
func (e *Engine) IngestRaw(ctx context.Context, raw signal.RawSignal) (Result, error) {
	ev, err := e.adapter.Normalize(raw)
	if err != nil {
		e.countRejected(err)
		return Result{}, err
	}
	return e.ingest(ctx, ev)
}

// Ingest validates ev and runs the normalized event through the pipeline.
// An empty ID is replaced with a generated one. Malformed and
// low-confidence signals are rejected before touching any state. A signal
// whose ID is already held in the windows is reported as a duplicate and
// changes nothing. A lost write race returns db.ErrConflict with the windows
// rolled back, so the same signal can be resubmitted.
func (e *Engine) Ingest(ctx context.Context, ev models.SignalEvent) (Result, error) {
	ev, err := e.adapter.Validate(ev)
	if err != nil {
		e.countRejected(err)
		return Result{}, err
	}
	return e.ingest(ctx, ev)
}

func (e *Engine) ingest(ctx context.Context, ev models.SignalEvent) (Result, error) {
	key := ev.Key()
	unlock, err := e.locks.LockContext(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	res, err := e.apply(ctx, ev)
	switch {
	case err == nil && res.Duplicate:
		e.stats.duplicates.Add(1)
		e.metrics.Signal(metrics.ResultDuplicate)
	case err == nil:
		e.stats.accepted.Add(1)
		e.metrics.Signal(metrics.ResultAccepted)
	case errors.Is(err, db.ErrConflict):
		e.stats.conflicts.Add(1)
		e.metrics.Signal(metrics.ResultConflict)
	default:
		e.stats.failed.Add(1)
		e.metrics.Signal(metrics.ResultError)
	}
	return res, err
}

// apply runs the pipeline for one event. The caller holds the key lock.
func (e *Engine) apply(ctx context.Context, ev models.SignalEvent) (Result, error) {
	key := ev.Key()
	e.hydrate(ctx, key)

	rec, err := e.store.GetState(ctx, key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Result{}, fmt.Errorf("load state %s: %w", key, err)
	}
	if errors.Is(err, db.ErrNotFound) {
		rec = nil
	}

	prev, hadWindows := e.windows.Export(key, ev.Timestamp)
	aggs, added := e.windows.Add(ev)
	if !added {
		return Result{Event: ev, Record: rec, Aggregates: aggs, Duplicate: true}, nil
	}

	// Out-of-order signals never move the record's clock backwards.
	at := ev.Timestamp
	if rec != nil && at.Before(rec.LastUpdatedAt) {
		at = rec.LastUpdatedAt
	}

	freq := e.windows.CountSince(key, at.Add(-e.scorer.FrequencyWindow()))
	comps := e.scorer.CalculateComponents(aggs, freq)
	tier := scoring.Classify(comps.FinalScore)
	e.metrics.Score(comps.FinalScore)

	out := e.machine.Apply(rec, state.Input{
		Event:      ev,
		Aggregates: aggs,
		Tier:       tier,
		Score:      comps.FinalScore,
	}, at)

	if err := e.store.SaveState(ctx, out.Record, out.Transitions); err != nil {
		if hadWindows {
			e.windows.Restore(key, prev)
		} else {
			e.windows.Forget(key)
		}
		return Result{}, fmt.Errorf("save state %s: %w", key, err)
	}

	e.persistWindows(ctx, key, at)
	e.recordTransitions(out.Transitions)

	e.logger.Debug().
		Str("user", key.UserID).
		Str("topic", key.TopicID).
		Float64("score", comps.FinalScore).
		Str("tier", string(tier)).
		Str("state", string(out.Record.State())).
		Msg("Signal applied")

	return Result{
		Event:       ev,
		Record:      out.Record,
		Transitions: out.Transitions,
		Aggregates:  aggs,
		Score:       comps,
		Tier:        tier,
	}, nil
}

func (e *Engine) countRejected(err error) {
	switch {
	case errors.Is(err, signal.ErrLowConfidence):
		e.stats.lowConfidence.Add(1)
		e.metrics.Signal(metrics.ResultLowConfidence)
	default:
		e.stats.malformed.Add(1)
		e.metrics.Signal(metrics.ResultMalformed)
	}
}

func (e *Engine) recordTransitions(transitions []models.TransitionEvent) {
	for _, ev := range transitions {
		e.stats.transitions.Add(1)
		e.metrics.Transition(ev)
		e.logger.Info().
			Str("user", ev.UserID).
			Str("topic", ev.TopicID).
			Str("from", string(ev.From)).
			Str("to", string(ev.To)).
			Str("reason", string(ev.Reason)).
			Msg("State transition")
	}
}

// Context returns the projected context for one key.
func (e *Engine) Context(ctx context.Context, key models.Key) (projection.Context, error) {
	return e.builder.Build(ctx, key, e.now())
}

// ContextForUser returns the context merged over all of a user's topics.
func (e *Engine) ContextForUser(ctx context.Context, userID string) (projection.Context, error) {
	return e.builder.BuildUser(ctx, userID, e.now())
}

// History returns up to limit most recent transitions for key, oldest first.
func (e *Engine) History(ctx context.Context, key models.Key, limit int) ([]models.TransitionEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return e.store.ListTransitions(ctx, key, limit)
}

// Override forces key into target on operator request.
func (e *Engine) Override(ctx context.Context, key models.Key, target models.Tier, note string) (*models.StateRecord, []models.TransitionEvent, error) {
	unlock, err := e.locks.LockContext(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	rec, err := e.store.GetState(ctx, key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("load state %s: %w", key, err)
	}
	if errors.Is(err, db.ErrNotFound) {
		rec = nil
	}

	out, err := e.machine.Override(rec, key, target, note, e.now())
	if err != nil {
		return nil, nil, err
	}
	if !out.Changed() {
		return out.Record, nil, nil
	}
	if err := e.store.SaveState(ctx, out.Record, out.Transitions); err != nil {
		return nil, nil, fmt.Errorf("save state %s: %w", key, err)
	}
	e.recordTransitions(out.Transitions)
	return out.Record, out.Transitions, nil
}

// UpdateScoring swaps the significance weights for subsequent signals.
func (e *Engine) UpdateScoring(cfg *models.ScoringConfig) {
	e.scorer.UpdateConfig(cfg)
	e.logger.Info().Msg("Scoring configuration updated")
}

// UpdateState swaps the transition rules for subsequent signals and sweeps.
func (e *Engine) UpdateState(cfg state.Config) {
	e.machine.UpdateConfig(cfg)
	e.logger.Info().Msg("State configuration updated")
}

// Scheduler creates a decay scheduler sharing the engine's store, locks and
// windows.
func (e *Engine) Scheduler(cfg decay.Config, logger zerolog.Logger) *decay.Scheduler {
	return decay.NewScheduler(e.store, e.locks, lockedWindows{e}, e.machine, e.metrics, cfg, logger)
}

// RefreshGauges updates the per-state record gauge from the store.
func (e *Engine) RefreshGauges(ctx context.Context) error {
	counts, err := e.store.CountByState(ctx)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	e.metrics.SetRecords(counts)
	return nil
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Accepted:      e.stats.accepted.Load(),
		Duplicates:    e.stats.duplicates.Load(),
		Malformed:     e.stats.malformed.Load(),
		LowConfidence: e.stats.lowConfidence.Load(),
		Conflicts:     e.stats.conflicts.Load(),
		Failed:        e.stats.failed.Load(),
		Transitions:   e.stats.transitions.Load(),
		LoadedKeys:    len(e.windows.Keys()),
		LockedKeys:    e.locks.Len(),
	}
}
