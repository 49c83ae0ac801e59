// Package window maintains per-key short, mid and long-term signal windows
// and their decay-weighted aggregates.
package window

import (
	"sort"
	"sync"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// Config holds window sizes and the recency weighting constant.
type Config struct {
	// Capacities is the FIFO bound for each horizon (ST, MT, LT).
	Capacities [models.NumHorizons]int `json:"capacities" yaml:"capacities"`
	// DecayK is the exponential recency constant k.
	DecayK float64 `json:"decay_k" yaml:"decay_k"`
}

// DefaultConfig returns the default window configuration.
func DefaultConfig() Config {
	return Config{
		Capacities: [models.NumHorizons]int{5, 20, 50},
		DecayK:     0.35,
	}
}

// Snapshot is the persisted form of a key's windows.
type Snapshot struct {
	SavedAt time.Time                                `json:"saved_at"`
	Windows [models.NumHorizons][]models.SignalEvent `json:"windows"`
}

type entry struct {
	windows [models.NumHorizons][]models.SignalEvent
	aggs    models.Aggregates
	mu      sync.Mutex
}

// Aggregator owns the per-key windows. Updates for different keys never
// contend beyond a short map lookup; callers serialize updates per key.
type Aggregator struct {
	entries map[models.Key]*entry
	cfg     Config
	mu      sync.RWMutex
}

// New creates an Aggregator. Zero capacities fall back to the defaults.
func New(cfg Config) *Aggregator {
	def := DefaultConfig()
	for i, c := range cfg.Capacities {
		if c <= 0 {
			cfg.Capacities[i] = def.Capacities[i]
		}
	}
	if cfg.DecayK < 0 {
		cfg.DecayK = def.DecayK
	}
	return &Aggregator{
		cfg:     cfg,
		entries: make(map[models.Key]*entry),
	}
}

// Config returns the aggregator configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

func (a *Aggregator) get(key models.Key) *entry {
	a.mu.RLock()
	e := a.entries[key]
	a.mu.RUnlock()
	return e
}

func (a *Aggregator) getOrCreate(key models.Key) *entry {
	if e := a.get(key); e != nil {
		return e
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok {
		return e
	}
	e := &entry{}
	e.aggs = a.emptyAggregates()
	a.entries[key] = e
	return e
}

func (a *Aggregator) emptyAggregates() models.Aggregates {
	var aggs models.Aggregates
	for _, h := range models.AllHorizons {
		aggs[h] = models.EmptyAggregate(h, a.cfg.Capacities[h])
	}
	return aggs
}

// Add appends ev to all three windows, evicts beyond capacity and recomputes
// the aggregates. It returns false when an event with the same ID is already
// held, in which case the windows are unchanged.
func (a *Aggregator) Add(ev models.SignalEvent) (models.Aggregates, bool) {
	e := a.getOrCreate(ev.Key())
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.ID != "" && e.contains(ev.ID) {
		return e.aggs, false
	}

	for _, h := range models.AllHorizons {
		w := append(e.windows[h], ev)
		if over := len(w) - a.cfg.Capacities[h]; over > 0 {
			w = append([]models.SignalEvent(nil), w[over:]...)
		}
		e.windows[h] = w
	}
	a.recompute(e)
	return e.aggs, true
}

func (e *entry) contains(id string) bool {
	for _, w := range e.windows {
		for i := range w {
			if w[i].ID == id {
				return true
			}
		}
	}
	return false
}

func (a *Aggregator) recompute(e *entry) {
	for _, h := range models.AllHorizons {
		e.aggs[h] = Compute(h, a.cfg.Capacities[h], e.windows[h], a.cfg.DecayK)
	}
}

// Snapshot returns a consistent copy of the key's aggregates. The boolean is
// false when the aggregator holds nothing for key.
func (a *Aggregator) Snapshot(key models.Key) (models.Aggregates, bool) {
	e := a.get(key)
	if e == nil {
		return a.emptyAggregates(), false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aggs, true
}

// Has reports whether windows for key are loaded.
func (a *Aggregator) Has(key models.Key) bool {
	return a.get(key) != nil
}

// CountSince returns the number of held events for key with a timestamp at or
// after since. The longest window is used.
func (a *Aggregator) CountSince(key models.Key, since time.Time) int {
	e := a.get(key)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.windows[models.HorizonLT] {
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// Export returns the persisted form of key's windows.
func (a *Aggregator) Export(key models.Key, now time.Time) (Snapshot, bool) {
	e := a.get(key)
	if e == nil {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{SavedAt: now}
	for h, w := range e.windows {
		snap.Windows[h] = append([]models.SignalEvent(nil), w...)
	}
	return snap, true
}

// Restore replaces key's windows with a persisted snapshot, trimming each
// window to the configured capacity.
func (a *Aggregator) Restore(key models.Key, snap Snapshot) models.Aggregates {
	e := a.getOrCreate(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range models.AllHorizons {
		w := snap.Windows[h]
		if over := len(w) - a.cfg.Capacities[h]; over > 0 {
			w = w[over:]
		}
		e.windows[h] = append([]models.SignalEvent(nil), w...)
	}
	a.recompute(e)
	return e.aggs
}

// Preview computes the aggregates a snapshot would produce without loading it.
func (a *Aggregator) Preview(snap Snapshot) models.Aggregates {
	var aggs models.Aggregates
	for _, h := range models.AllHorizons {
		w := snap.Windows[h]
		if over := len(w) - a.cfg.Capacities[h]; over > 0 {
			w = w[over:]
		}
		aggs[h] = Compute(h, a.cfg.Capacities[h], w, a.cfg.DecayK)
	}
	return aggs
}

// ExpireBefore hard-expires short-term events older than cutoff regardless of
// the count bound. It returns the number of events removed.
func (a *Aggregator) ExpireBefore(key models.Key, cutoff time.Time) int {
	e := a.get(key)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.windows[models.HorizonST]
	kept := st[:0:0]
	for _, ev := range st {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	removed := len(st) - len(kept)
	if removed > 0 {
		e.windows[models.HorizonST] = kept
		e.aggs[models.HorizonST] = Compute(models.HorizonST, a.cfg.Capacities[models.HorizonST], kept, a.cfg.DecayK)
	}
	return removed
}

// Forget drops all windows for key.
func (a *Aggregator) Forget(key models.Key) {
	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
}

// Keys returns all loaded keys in a stable order.
func (a *Aggregator) Keys() []models.Key {
	a.mu.RLock()
	keys := make([]models.Key, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	a.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
