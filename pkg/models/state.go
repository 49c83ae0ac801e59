package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Tier is the significance classification of a user's emotional state.
type Tier string

const (
	// TierNone is the state before any record exists.
	TierNone Tier = "none"
	// TierST is a transient short-term state.
	TierST Tier = "ST"
	// TierMT is a persistent mid-term state.
	TierMT Tier = "MT"
	// TierLT is a long-term baseline state.
	TierLT Tier = "LT"
	// TierDormant is the decayed sub-state, eligible for resurgence.
	TierDormant Tier = "dormant"
)

// ActiveTiers lists the classifiable tiers in escalating order.
var ActiveTiers = []Tier{TierST, TierMT, TierLT}

// Rank orders active tiers: ST=1, MT=2, LT=3. Other values rank 0.
func (t Tier) Rank() int {
	switch t {
	case TierST:
		return 1
	case TierMT:
		return 2
	case TierLT:
		return 3
	default:
		return 0
	}
}

// Active reports whether t is one of ST, MT, LT.
func (t Tier) Active() bool {
	return t.Rank() > 0
}

// ParseTier parses a tier name, accepting upper or lower case.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "ST", "st", "short_term":
		return TierST, nil
	case "MT", "mt", "mid_term":
		return TierMT, nil
	case "LT", "lt", "long_term":
		return TierLT, nil
	case "dormant", "DORMANT":
		return TierDormant, nil
	case "none", "":
		return TierNone, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

// Reason explains why a transition happened.
type Reason string

const (
	ReasonInitial      Reason = "initial"
	ReasonEscalation   Reason = "escalation"
	ReasonCompounding  Reason = "compounding"
	ReasonResurgence   Reason = "resurgence"
	ReasonReactivation Reason = "reactivation"
	ReasonDecay        Reason = "decay"
	ReasonManual       Reason = "manual"
)

// DecayModel is the relevance decay curve used for a tier.
type DecayModel string

const (
	DecayExponential DecayModel = "exponential"
	DecaySigmoid     DecayModel = "sigmoid"
	DecayAsymptotic  DecayModel = "asymptotic"
)

// DecayModelFor returns the decay curve associated with a tier.
func DecayModelFor(t Tier) DecayModel {
	switch t {
	case TierMT:
		return DecaySigmoid
	case TierLT:
		return DecayAsymptotic
	default:
		return DecayExponential
	}
}

// DecayParams are the per-record decay settings captured when the tier was entered.
type DecayParams struct {
	Model            DecayModel    `json:"model"`
	InactivityWindow time.Duration `json:"inactivity_window"`
}

// EscalationMark records one counted short-term episode.
type EscalationMark struct {
	At      time.Time `json:"at"`
	Emotion Emotion   `json:"emotion"`
}

// Trigger describes what last changed the record.
type Trigger struct {
	SignalID string `json:"signal_id,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Stability is the mid/long-term volatility trend recomputed by the decay engine.
type Stability struct {
	ComputedAt   time.Time `json:"computed_at,omitempty"`
	MTVolatility float64   `json:"mt_volatility"`
	LTVolatility float64   `json:"lt_volatility"`
	MTTrend      float64   `json:"mt_trend"`
	LTTrend      float64   `json:"lt_trend"`
}

// StateRecord is the authoritative state for one (user, topic).
// Tier always holds the last active tier; Dormant marks the decayed sub-state.
type StateRecord struct {
	EnteredAt        time.Time       `json:"entered_at"`
	LastUpdatedAt    time.Time       `json:"last_updated_at"`
	DormantSince     time.Time       `json:"dormant_since,omitempty"`
	LastResurgenceAt time.Time       `json:"last_resurgence_at,omitempty"`
	Stability        Stability       `json:"stability"`
	Trigger          Trigger         `json:"trigger"`
	DecayParams      DecayParams     `json:"decay_params"`
	UserID           string          `json:"user_id"`
	TopicID          string          `json:"topic_id,omitempty"`
	Tier             Tier            `json:"tier"`
	EscalationMarks  EscalationMarks `json:"escalation_marks,omitempty"`
	DormantProfile   Distribution    `json:"dormant_profile"`
	EscalationCount  int             `json:"escalation_count"`
	LastScore        float64         `json:"last_score"`
	Version          int64           `json:"version"`
	DominantEmotion  Emotion         `json:"dominant_emotion"`
	Dormant          bool            `json:"dormant"`
}

// Key returns the record's (user, topic) key.
func (r *StateRecord) Key() Key {
	return Key{UserID: r.UserID, TopicID: r.TopicID}
}

// State returns TierDormant for dormant records and the active tier otherwise.
func (r *StateRecord) State() Tier {
	if r.Dormant {
		return TierDormant
	}
	return r.Tier
}

// Clone returns a deep copy so callers never share mutable slices.
func (r *StateRecord) Clone() *StateRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.EscalationMarks != nil {
		c.EscalationMarks = append(EscalationMarks(nil), r.EscalationMarks...)
	}
	return &c
}

// EscalationMarks is a JSON-serialized list for storage columns.
type EscalationMarks []EscalationMark

// Scan implements sql.Scanner for EscalationMarks.
func (m *EscalationMarks) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for EscalationMarks: %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer for EscalationMarks.
func (m EscalationMarks) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]EscalationMark(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// TransitionEvent is an immutable audit entry for one state change.
type TransitionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TopicID     string    `json:"topic_id,omitempty"`
	From        Tier      `json:"from"`
	To          Tier      `json:"to"`
	Reason      Reason    `json:"reason"`
	SignalID    string    `json:"signal_id,omitempty"`
	Note        string    `json:"note,omitempty"`
	ScoreBefore float64   `json:"score_before"`
	ScoreAfter  float64   `json:"score_after"`
}
