// Package state owns the tier transition rules for state records.
//
// The Machine is a pure function of (record, input, time): it never touches
// storage. Callers persist the returned record together with its transition
// events in one atomic write.
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/emostate/pkg/models"
)

// ErrInvalidOverride is returned when a manual override targets a state the
// record cannot take.
var ErrInvalidOverride = errors.New("invalid override")

// Input is one classified signal for the state machine.
type Input struct {
	Event      models.SignalEvent
	Aggregates models.Aggregates
	Tier       models.Tier
	Score      float64
}

// Outcome is the updated record plus the transitions to append with it.
type Outcome struct {
	Record      *models.StateRecord
	Transitions []models.TransitionEvent
}

// Changed reports whether the outcome carries a tier or status change.
func (o Outcome) Changed() bool {
	return len(o.Transitions) > 0
}

// Machine applies transition rules.
type Machine struct {
	newID  func() string
	config Config
	mu     sync.RWMutex
}

// NewMachine creates a state machine with the given rules.
func NewMachine(cfg Config) *Machine {
	return &Machine{config: cfg, newID: uuid.NewString}
}

// UpdateConfig swaps the transition rules.
func (m *Machine) UpdateConfig(cfg Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Config returns the current transition rules.
func (m *Machine) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Apply evaluates a classified signal against the current record, which may
// be nil for a key that has never been seen. The input record is not mutated.
func (m *Machine) Apply(rec *models.StateRecord, in Input, now time.Time) Outcome {
	cfg := m.Config()

	if rec == nil {
		return m.create(cfg, in, now)
	}

	next := rec.Clone()
	if next.Dormant {
		if next.Tier == models.TierLT && m.resurges(cfg, next, in.Event, now) {
			return m.resurge(cfg, next, in, now)
		}
		return m.reactivate(cfg, next, in, now)
	}

	if in.Tier.Rank() > next.Tier.Rank() {
		return m.escalate(cfg, next, in, models.ReasonEscalation, in.Tier, now)
	}

	if next.Tier == models.TierST && in.Tier == models.TierST {
		if m.recordEpisode(cfg, next, in.Event, now) {
			return m.escalate(cfg, next, in, models.ReasonCompounding, models.TierMT, now)
		}
	}

	if next.Tier == models.TierMT && in.Tier == models.TierMT {
		if m.recordMention(cfg, next, in.Event, now) {
			return m.escalate(cfg, next, in, models.ReasonEscalation, models.TierLT, now)
		}
	}

	m.refresh(next, in, now)
	return Outcome{Record: next}
}

func (m *Machine) create(cfg Config, in Input, now time.Time) Outcome {
	tier := in.Tier
	if !tier.Active() {
		tier = models.TierST
	}
	rec := &models.StateRecord{
		UserID:          in.Event.UserID,
		TopicID:         in.Event.TopicID,
		Tier:            tier,
		EnteredAt:       now,
		DominantEmotion: models.EmotionNone,
	}
	rec.DecayParams = decayParams(cfg, tier)
	m.refresh(rec, in, now)
	if tier == models.TierST {
		m.recordEpisode(cfg, rec, in.Event, now)
	}

	ev := m.transition(rec, models.TierNone, tier, models.ReasonInitial, in.Event.ID, "", 0, in.Score, now)
	rec.Trigger = models.Trigger{SignalID: in.Event.ID, Reason: models.ReasonInitial}
	return Outcome{Record: rec, Transitions: []models.TransitionEvent{ev}}
}

func (m *Machine) escalate(cfg Config, rec *models.StateRecord, in Input, reason models.Reason, to models.Tier, now time.Time) Outcome {
	from := rec.Tier
	before := rec.LastScore

	rec.Tier = to
	rec.EnteredAt = now
	rec.DecayParams = decayParams(cfg, to)
	rec.EscalationMarks = nil
	rec.EscalationCount = 0
	m.refresh(rec, in, now)
	rec.Trigger = models.Trigger{SignalID: in.Event.ID, Reason: reason}

	ev := m.transition(rec, from, to, reason, in.Event.ID, "", before, in.Score, now)
	return Outcome{Record: rec, Transitions: []models.TransitionEvent{ev}}
}

func (m *Machine) reactivate(cfg Config, rec *models.StateRecord, in Input, now time.Time) Outcome {
	before := rec.LastScore
	tier := in.Tier
	if !tier.Active() {
		tier = models.TierST
	}

	wake(rec)
	rec.Tier = tier
	rec.EnteredAt = now
	rec.DecayParams = decayParams(cfg, tier)
	rec.EscalationMarks = nil
	rec.EscalationCount = 0
	m.refresh(rec, in, now)
	if tier == models.TierST {
		m.recordEpisode(cfg, rec, in.Event, now)
	}
	rec.Trigger = models.Trigger{SignalID: in.Event.ID, Reason: models.ReasonReactivation}

	ev := m.transition(rec, models.TierDormant, tier, models.ReasonReactivation, in.Event.ID, "", before, in.Score, now)
	return Outcome{Record: rec, Transitions: []models.TransitionEvent{ev}}
}

// refresh updates the activity fields without changing the tier.
func (m *Machine) refresh(rec *models.StateRecord, in Input, now time.Time) {
	rec.LastUpdatedAt = now
	rec.LastScore = in.Score
	if e := representativeEmotion(rec.Tier, in); e.Valid() {
		rec.DominantEmotion = e
	}
}

// representativeEmotion is the dominant emotion of the aggregate matching the
// record's tier, falling back to shorter horizons and then the event itself.
func representativeEmotion(t models.Tier, in Input) models.Emotion {
	h := models.HorizonST
	switch t {
	case models.TierMT:
		h = models.HorizonMT
	case models.TierLT:
		h = models.HorizonLT
	}
	for ; h >= models.HorizonST; h-- {
		if agg := in.Aggregates[h]; !agg.Empty && agg.Count > 0 && agg.Dominant.Valid() {
			return agg.Dominant
		}
	}
	return in.Event.Dominant()
}

// MarkDormant moves an active record to the dormant sub-state. profile is the
// distribution recorded for later resurgence matching; a zero profile falls
// back to the record's dominant emotion. Dormant records are returned
// unchanged with no transition.
func (m *Machine) MarkDormant(rec *models.StateRecord, profile models.Distribution, now time.Time) Outcome {
	if rec == nil || rec.Dormant {
		return Outcome{Record: rec}
	}
	next := rec.Clone()
	from := next.Tier

	if profile.IsZero() && next.DominantEmotion.Valid() {
		profile[next.DominantEmotion] = 1
	}
	next.Dormant = true
	next.DormantSince = now
	next.DormantProfile = profile.Normalized()
	next.EscalationMarks = nil
	next.EscalationCount = 0
	next.Trigger = models.Trigger{Reason: models.ReasonDecay}

	ev := m.transition(next, from, models.TierDormant, models.ReasonDecay, "", "", next.LastScore, next.LastScore, now)
	return Outcome{Record: next, Transitions: []models.TransitionEvent{ev}}
}

// IsInactive reports whether an active record has exceeded its inactivity
// window at now.
func (m *Machine) IsInactive(rec *models.StateRecord, now time.Time) bool {
	if rec == nil || rec.Dormant || !rec.Tier.Active() {
		return false
	}
	window := rec.DecayParams.InactivityWindow
	if window <= 0 {
		window = m.Config().Inactivity.For(rec.Tier)
	}
	if window <= 0 {
		return false
	}
	return now.Sub(rec.LastUpdatedAt) > window
}

func (m *Machine) transition(rec *models.StateRecord, from, to models.Tier, reason models.Reason, signalID, note string, before, after float64, now time.Time) models.TransitionEvent {
	return models.TransitionEvent{
		ID:          m.newID(),
		UserID:      rec.UserID,
		TopicID:     rec.TopicID,
		From:        from,
		To:          to,
		Reason:      reason,
		Timestamp:   now,
		SignalID:    signalID,
		Note:        note,
		ScoreBefore: before,
		ScoreAfter:  after,
	}
}

func decayParams(cfg Config, t models.Tier) models.DecayParams {
	return models.DecayParams{
		Model:            models.DecayModelFor(t),
		InactivityWindow: cfg.Inactivity.For(t),
	}
}

func wake(rec *models.StateRecord) {
	rec.Dormant = false
	rec.DormantSince = time.Time{}
	rec.DormantProfile = models.Distribution{}
}
