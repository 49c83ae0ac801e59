// Package memory provides an in-process RecordStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/pkg/models"
)

// Store keeps records and transitions in maps. It hands out copies so
// readers never observe a record mid-update.
type Store struct {
	records     map[models.Key]*models.StateRecord
	transitions map[models.Key][]models.TransitionEvent
	mu          sync.RWMutex
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records:     make(map[models.Key]*models.StateRecord),
		transitions: make(map[models.Key][]models.TransitionEvent),
	}
}

// GetState returns a copy of the record for key.
func (s *Store) GetState(_ context.Context, key models.Key) (*models.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec.Clone(), nil
}

// SaveState stores rec and appends transitions under a version check.
func (s *Store) SaveState(_ context.Context, rec *models.StateRecord, transitions []models.TransitionEvent) error {
	if rec == nil {
		return fmt.Errorf("save state: nil record")
	}
	key := rec.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.records[key]; ok {
		stored = cur.Version
	}
	if stored != rec.Version {
		return fmt.Errorf("save state %s: %w", key, db.ErrConflict)
	}

	next := rec.Clone()
	next.Version = rec.Version + 1
	s.records[key] = next
	s.transitions[key] = append(s.transitions[key], transitions...)
	rec.Version = next.Version
	return nil
}

// ListKeys returns all record keys in a stable order.
func (s *Store) ListKeys(_ context.Context) ([]models.Key, error) {
	s.mu.RLock()
	keys := make([]models.Key, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sortKeys(keys)
	return keys, nil
}

// ListByUser returns copies of all records for a user.
func (s *Store) ListByUser(_ context.Context, userID string) ([]*models.StateRecord, error) {
	return s.filter(func(r *models.StateRecord) bool { return r.UserID == userID }), nil
}

// ListByTier returns copies of a user's records in the given state.
// TierDormant selects dormant records.
func (s *Store) ListByTier(_ context.Context, userID string, tier models.Tier) ([]*models.StateRecord, error) {
	return s.filter(func(r *models.StateRecord) bool {
		return r.UserID == userID && r.State() == tier
	}), nil
}

// CountByState returns the number of records per state.
func (s *Store) CountByState(_ context.Context) (map[models.Tier]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Tier]int64)
	for _, r := range s.records {
		counts[r.State()]++
	}
	return counts, nil
}

// ListTransitions returns the latest transitions for key, oldest first.
func (s *Store) ListTransitions(_ context.Context, key models.Key, limit int) ([]models.TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.transitions[key]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.TransitionEvent(nil), all...), nil
}

// PruneTransitions deletes transitions older than cutoff.
func (s *Store) PruneTransitions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, all := range s.transitions {
		kept := all[:0:0]
		for _, ev := range all {
			if ev.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(s.transitions, key)
			continue
		}
		s.transitions[key] = kept
	}
	return removed, nil
}

func (s *Store) filter(match func(*models.StateRecord) bool) []*models.StateRecord {
	s.mu.RLock()
	var out []*models.StateRecord
	for _, r := range s.records {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

func sortKeys(keys []models.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].TopicID < keys[j].TopicID
	})
}

var _ db.RecordStore = (*Store)(nil)
