package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thebtf/emostate/internal/cache"
	"github.com/thebtf/emostate/internal/window"
	"github.com/thebtf/emostate/pkg/models"
)

func windowKey(key models.Key) string {
	return cache.WindowPrefix + key.String()
}

func aggregateKey(key models.Key) string {
	return cache.AggregatePrefix + key.String()
}

// loadSnapshot reads key's persisted windows. Cache failures are logged and
// treated as a miss; the cache is never authoritative.
func (e *Engine) loadSnapshot(ctx context.Context, key models.Key) (window.Snapshot, bool) {
	if e.kv == nil {
		return window.Snapshot{}, false
	}
	var snap window.Snapshot
	err := cache.GetJSON(ctx, e.kv, windowKey(key), &snap)
	if errors.Is(err, cache.ErrMiss) {
		return window.Snapshot{}, false
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Str("user", key.UserID).
			Str("topic", key.TopicID).
			Msg("Failed to load window snapshot")
		return window.Snapshot{}, false
	}
	return snap, true
}

// hydrate loads key's windows from the cache when they are not in memory.
// The caller holds the key lock.
func (e *Engine) hydrate(ctx context.Context, key models.Key) {
	if e.windows.Has(key) {
		return
	}
	if snap, ok := e.loadSnapshot(ctx, key); ok {
		e.windows.Restore(key, snap)
	}
}

// persistWindows writes the short-term aggregate and the window snapshot
// with the cache TTL. The caller holds the key lock.
func (e *Engine) persistWindows(ctx context.Context, key models.Key, now time.Time) {
	if e.kv == nil {
		return
	}
	snap, ok := e.windows.Export(key, now)
	if !ok {
		return
	}
	aggs, _ := e.windows.Snapshot(key)
	if err := cache.SetJSON(ctx, e.kv, aggregateKey(key), aggs[models.HorizonST], e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Str("user", key.UserID).Str("topic", key.TopicID).Msg("Failed to cache aggregate")
	}
	if err := cache.SetJSON(ctx, e.kv, windowKey(key), snap, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Str("user", key.UserID).Str("topic", key.TopicID).Msg("Failed to cache windows")
	}
}

// ShortTermAggregate returns the cached short-term aggregate for key.
func (e *Engine) ShortTermAggregate(ctx context.Context, key models.Key) (models.WindowAggregate, error) {
	if e.kv == nil {
		aggs, ok := e.windows.Snapshot(key)
		if !ok {
			return models.WindowAggregate{}, cache.ErrMiss
		}
		return aggs[models.HorizonST], nil
	}
	var agg models.WindowAggregate
	if err := cache.GetJSON(ctx, e.kv, aggregateKey(key), &agg); err != nil {
		return models.WindowAggregate{}, err
	}
	return agg, nil
}

// lockedWindows serves the decay scheduler, which already holds the key lock.
type lockedWindows struct{ e *Engine }

func (w lockedWindows) Aggregates(ctx context.Context, key models.Key) (models.Aggregates, bool) {
	w.e.hydrate(ctx, key)
	return w.e.windows.Snapshot(key)
}

func (w lockedWindows) ExpireShortTerm(ctx context.Context, key models.Key, cutoff time.Time) (int, error) {
	w.e.hydrate(ctx, key)
	n := w.e.windows.ExpireBefore(key, cutoff)
	if n > 0 {
		w.e.persistWindows(ctx, key, w.e.now())
	}
	return n, nil
}

// readerWindows serves unlocked reads. It never loads windows into memory, so
// it cannot race a writer hydrating the same key. Concurrent cache reads for
// one key are coalesced.
type readerWindows struct {
	e     *Engine
	group *singleflight.Group
}

func (w readerWindows) Aggregates(ctx context.Context, key models.Key) (models.Aggregates, bool) {
	if aggs, ok := w.e.windows.Snapshot(key); ok {
		return aggs, true
	}
	v, _, _ := w.group.Do(windowKey(key), func() (any, error) {
		snap, ok := w.e.loadSnapshot(ctx, key)
		if !ok {
			return nil, nil
		}
		aggs := w.e.windows.Preview(snap)
		return &aggs, nil
	})
	aggs, ok := v.(*models.Aggregates)
	if !ok || aggs == nil {
		return models.Aggregates{}, false
	}
	return *aggs, true
}
