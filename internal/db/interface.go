// Package db defines the storage interfaces for state records and their
// transition history.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a record changed underneath a write. The
	// caller may reload and retry.
	ErrConflict = errors.New("record version conflict")
)

// RecordReader defines read operations for state records.
type RecordReader interface {
	GetState(ctx context.Context, key models.Key) (*models.StateRecord, error)
	ListKeys(ctx context.Context) ([]models.Key, error)
	ListByUser(ctx context.Context, userID string) ([]*models.StateRecord, error)
	ListByTier(ctx context.Context, userID string, tier models.Tier) ([]*models.StateRecord, error)
	CountByState(ctx context.Context) (map[models.Tier]int64, error)
}

// RecordWriter defines write operations for state records.
type RecordWriter interface {
	// SaveState writes rec and appends transitions in one atomic step.
	// rec.Version must equal the stored version (zero for a new record);
	// on success it is incremented in place.
	SaveState(ctx context.Context, rec *models.StateRecord, transitions []models.TransitionEvent) error
}

// TransitionReader defines read operations for the transition log.
type TransitionReader interface {
	// ListTransitions returns up to limit most recent transitions for key,
	// oldest first. A non-positive limit returns all of them.
	ListTransitions(ctx context.Context, key models.Key, limit int) ([]models.TransitionEvent, error)
}

// TransitionPruner enforces transition log retention.
type TransitionPruner interface {
	// PruneTransitions deletes transitions with a timestamp before cutoff and
	// returns the number removed. Records are never touched.
	PruneTransitions(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecordStore combines all state record operations.
type RecordStore interface {
	RecordReader
	RecordWriter
	TransitionReader
	TransitionPruner
}
