package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/pkg/models"
)

// RecordStore provides state record and transition operations.
type RecordStore struct {
	store *Store
	db    *gorm.DB
}

// NewRecordStore creates a new record store.
func NewRecordStore(store *Store) *RecordStore {
	return &RecordStore{store: store, db: store.DB}
}

// GetState returns the record for key or db.ErrNotFound.
func (s *RecordStore) GetState(ctx context.Context, key models.Key) (*models.StateRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_state")
	defer cancel()

	var row StateRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND topic_id = ?", key.UserID, key.TopicID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}
	return fromRow(&row), nil
}

// SaveState writes rec and appends transitions in one transaction. New
// records (Version 0) are inserted; existing ones are updated only when the
// stored version still matches.
func (s *RecordStore) SaveState(ctx context.Context, rec *models.StateRecord, transitions []models.TransitionEvent) error {
	if rec == nil {
		return fmt.Errorf("save state: nil record")
	}
	key := rec.Key()
	prev := rec.Version
	row := toRow(rec)
	row.Version = prev + 1

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "save_state")
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var result *gorm.DB
		if prev == 0 {
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		} else {
			result = tx.Model(&StateRecord{}).
				Where("user_id = ? AND topic_id = ? AND version = ?", key.UserID, key.TopicID, prev).
				Select("*").
				Omit("user_id", "topic_id", "created_at").
				Updates(row)
		}
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return db.ErrConflict
		}

		if len(transitions) == 0 {
			return nil
		}
		rows := make([]Transition, len(transitions))
		for i, ev := range transitions {
			rows[i] = toTransitionRow(ev)
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}

	rec.Version = row.Version
	return nil
}

// ListKeys returns all record keys ordered by user and topic.
func (s *RecordStore) ListKeys(ctx context.Context) ([]models.Key, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "list_keys")
	defer cancel()

	var rows []StateRecord
	err := s.db.WithContext(ctx).
		Model(&StateRecord{}).
		Select("user_id", "topic_id").
		Order("user_id, topic_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	keys := make([]models.Key, len(rows))
	for i := range rows {
		keys[i] = models.Key{UserID: rows[i].UserID, TopicID: rows[i].TopicID}
	}
	return keys, nil
}

// ListByUser returns all records for a user ordered by topic.
func (s *RecordStore) ListByUser(ctx context.Context, userID string) ([]*models.StateRecord, error) {
	return s.list(ctx, "list_by_user", s.db.Where("user_id = ?", userID))
}

// ListByTier returns a user's records in the given state. TierDormant
// selects dormant records; active tiers select non-dormant ones.
func (s *RecordStore) ListByTier(ctx context.Context, userID string, tier models.Tier) ([]*models.StateRecord, error) {
	q := s.db.Where("user_id = ?", userID)
	if tier == models.TierDormant {
		q = q.Where("dormant = ?", true)
	} else {
		q = q.Where("tier = ? AND dormant = ?", string(tier), false)
	}
	return s.list(ctx, "list_by_tier", q)
}

func (s *RecordStore) list(ctx context.Context, op string, q *gorm.DB) ([]*models.StateRecord, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, op)
	defer cancel()

	var rows []StateRecord
	if err := q.WithContext(ctx).Order("topic_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*models.StateRecord, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// CountByState returns the number of records per state.
func (s *RecordStore) CountByState(ctx context.Context) (map[models.Tier]int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "count_by_state")
	defer cancel()

	var rows []struct {
		Tier    string
		Dormant bool
		Count   int64
	}
	err := s.db.WithContext(ctx).
		Model(&StateRecord{}).
		Select("tier, dormant, COUNT(*) AS count").
		Group("tier, dormant").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}

	counts := make(map[models.Tier]int64)
	for _, r := range rows {
		if r.Dormant {
			counts[models.TierDormant] += r.Count
			continue
		}
		counts[models.Tier(r.Tier)] += r.Count
	}
	return counts, nil
}

// ListTransitions returns the latest transitions for key, oldest first.
func (s *RecordStore) ListTransitions(ctx context.Context, key models.Key, limit int) ([]models.TransitionEvent, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_transitions")
	defer cancel()

	q := s.db.WithContext(ctx).
		Where("user_id = ? AND topic_id = ?", key.UserID, key.TopicID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Transition
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", key, err)
	}

	out := make([]models.TransitionEvent, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = fromTransitionRow(rows[i])
	}
	return out, nil
}

// PruneTransitions deletes transitions older than cutoff in batches so no
// single statement holds the table for long.
func (s *RecordStore) PruneTransitions(ctx context.Context, cutoff time.Time) (int64, error) {
	const batchSize = 500
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var ids []string
		err := s.db.WithContext(ctx).
			Model(&Transition{}).
			Where("timestamp < ?", cutoff).
			Limit(batchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return total, fmt.Errorf("prune transitions: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Transition{})
		if result.Error != nil {
			return total, fmt.Errorf("prune transitions: %w", result.Error)
		}
		total += result.RowsAffected
		if len(ids) < batchSize {
			return total, nil
		}
	}
}

var _ db.RecordStore = (*RecordStore)(nil)
