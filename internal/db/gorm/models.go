package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/emostate/pkg/models"
)

// GORM Models

// Note: Distribution and EscalationMarks are stored as JSON text; both
// implement sql.Scanner and driver.Valuer in pkg/models.

// StateRecord is the persisted form of models.StateRecord.
// Field order optimized for memory alignment (fieldalignment).
type StateRecord struct {
	EnteredAt           time.Time              `gorm:"not null"`
	LastUpdatedAt       time.Time              `gorm:"index:idx_state_last_updated;not null"`
	CreatedAt           time.Time              `gorm:"autoCreateTime"`
	DormantSince        sql.NullTime           `gorm:"index:idx_state_dormant_since"`
	LastResurgenceAt    sql.NullTime           `gorm:"default:null"`
	StabilityComputedAt sql.NullTime           `gorm:"default:null"`
	UserID              string                 `gorm:"primaryKey;size:191;index:idx_state_user_tier,priority:1"`
	TopicID             string                 `gorm:"primaryKey;size:191;default:''"`
	Tier                string                 `gorm:"type:text;check:tier IN ('ST', 'MT', 'LT');index:idx_state_user_tier,priority:2;not null"`
	DecayModel          string                 `gorm:"type:text"`
	DominantEmotion     string                 `gorm:"type:text"`
	TriggerSignalID     string                 `gorm:"type:text"`
	TriggerReason       string                 `gorm:"type:text"`
	TriggerNote         string                 `gorm:"type:text"`
	EscalationMarks     models.EscalationMarks `gorm:"type:text"`
	DormantProfile      models.Distribution    `gorm:"type:text"`
	InactivityWindow    int64                  `gorm:"not null;default:0"`
	EscalationCount     int                    `gorm:"not null;default:0"`
	LastScore           float64                `gorm:"not null;default:0"`
	MTVolatility        float64                `gorm:"not null;default:0"`
	LTVolatility        float64                `gorm:"not null;default:0"`
	MTTrend             float64                `gorm:"not null;default:0"`
	LTTrend             float64                `gorm:"not null;default:0"`
	Version             int64                  `gorm:"not null;default:0"`
	Dormant             bool                   `gorm:"index:idx_state_user_tier,priority:3;not null;default:false"`
}

func (StateRecord) TableName() string { return "state_records" }

// BeforeCreate hook to ensure timestamps are set.
func (r *StateRecord) BeforeCreate(tx *gorm.DB) error {
	if r.EnteredAt.IsZero() {
		r.EnteredAt = time.Now().UTC()
	}
	if r.LastUpdatedAt.IsZero() {
		r.LastUpdatedAt = r.EnteredAt
	}
	return nil
}

// Transition is the persisted form of models.TransitionEvent. Rows are
// never updated; only retention pruning deletes them.
type Transition struct {
	ScoreBefore float64   `gorm:"not null;default:0"`
	ScoreAfter  float64   `gorm:"not null;default:0"`
	Timestamp   time.Time `gorm:"index:idx_transitions_key,priority:3;not null"`
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      string    `gorm:"size:191;index:idx_transitions_key,priority:1;not null"`
	TopicID     string    `gorm:"size:191;index:idx_transitions_key,priority:2;default:''"`
	FromTier    string    `gorm:"type:text;not null"`
	ToTier      string    `gorm:"type:text;not null"`
	Reason      string    `gorm:"type:text;index;not null"`
	SignalID    string    `gorm:"type:text"`
	Note        string    `gorm:"type:text"`
}

func (Transition) TableName() string { return "state_transitions" }

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func toRow(r *models.StateRecord) *StateRecord {
	return &StateRecord{
		UserID:              r.UserID,
		TopicID:             r.TopicID,
		Tier:                string(r.Tier),
		Dormant:             r.Dormant,
		EnteredAt:           r.EnteredAt.UTC(),
		LastUpdatedAt:       r.LastUpdatedAt.UTC(),
		DormantSince:        nullTime(r.DormantSince),
		LastResurgenceAt:    nullTime(r.LastResurgenceAt),
		DecayModel:          string(r.DecayParams.Model),
		InactivityWindow:    int64(r.DecayParams.InactivityWindow),
		EscalationCount:     r.EscalationCount,
		EscalationMarks:     r.EscalationMarks,
		DormantProfile:      r.DormantProfile,
		DominantEmotion:     r.DominantEmotion.String(),
		LastScore:           r.LastScore,
		TriggerSignalID:     r.Trigger.SignalID,
		TriggerReason:       string(r.Trigger.Reason),
		TriggerNote:         r.Trigger.Note,
		StabilityComputedAt: nullTime(r.Stability.ComputedAt),
		MTVolatility:        r.Stability.MTVolatility,
		LTVolatility:        r.Stability.LTVolatility,
		MTTrend:             r.Stability.MTTrend,
		LTTrend:             r.Stability.LTTrend,
		Version:             r.Version,
	}
}

func fromRow(row *StateRecord) *models.StateRecord {
	emotion, ok := models.ParseEmotion(row.DominantEmotion)
	if !ok {
		emotion = models.EmotionNone
	}
	var marks models.EscalationMarks
	if len(row.EscalationMarks) > 0 {
		marks = append(marks, row.EscalationMarks...)
	}
	return &models.StateRecord{
		UserID:           row.UserID,
		TopicID:          row.TopicID,
		Tier:             models.Tier(row.Tier),
		Dormant:          row.Dormant,
		EnteredAt:        row.EnteredAt.UTC(),
		LastUpdatedAt:    row.LastUpdatedAt.UTC(),
		DormantSince:     fromNullTime(row.DormantSince),
		LastResurgenceAt: fromNullTime(row.LastResurgenceAt),
		DecayParams: models.DecayParams{
			Model:            models.DecayModel(row.DecayModel),
			InactivityWindow: time.Duration(row.InactivityWindow),
		},
		EscalationCount: row.EscalationCount,
		EscalationMarks: marks,
		DormantProfile:  row.DormantProfile,
		DominantEmotion: emotion,
		LastScore:       row.LastScore,
		Trigger: models.Trigger{
			SignalID: row.TriggerSignalID,
			Reason:   models.Reason(row.TriggerReason),
			Note:     row.TriggerNote,
		},
		Stability: models.Stability{
			ComputedAt:   fromNullTime(row.StabilityComputedAt),
			MTVolatility: row.MTVolatility,
			LTVolatility: row.LTVolatility,
			MTTrend:      row.MTTrend,
			LTTrend:      row.LTTrend,
		},
		Version: row.Version,
	}
}

func toTransitionRow(ev models.TransitionEvent) Transition {
	return Transition{
		ID:          ev.ID,
		UserID:      ev.UserID,
		TopicID:     ev.TopicID,
		FromTier:    string(ev.From),
		ToTier:      string(ev.To),
		Reason:      string(ev.Reason),
		Timestamp:   ev.Timestamp.UTC(),
		SignalID:    ev.SignalID,
		Note:        ev.Note,
		ScoreBefore: ev.ScoreBefore,
		ScoreAfter:  ev.ScoreAfter,
	}
}

func fromTransitionRow(row Transition) models.TransitionEvent {
	return models.TransitionEvent{
		ID:          row.ID,
		UserID:      row.UserID,
		TopicID:     row.TopicID,
		From:        models.Tier(row.FromTier),
		To:          models.Tier(row.ToTier),
		Reason:      models.Reason(row.Reason),
		Timestamp:   row.Timestamp.UTC(),
		SignalID:    row.SignalID,
		Note:        row.Note,
		ScoreBefore: row.ScoreBefore,
		ScoreAfter:  row.ScoreAfter,
	}
}
