package state

import (
	"fmt"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// Override forces a record into target (an active tier or dormant) on operator
// request. A nil record may only be created into an active tier. Overriding to
// the record's current state is a no-op without a transition.
func (m *Machine) Override(rec *models.StateRecord, key models.Key, target models.Tier, note string, now time.Time) (Outcome, error) {
	cfg := m.Config()

	if !target.Active() && target != models.TierDormant {
		return Outcome{}, fmt.Errorf("%w: target %q", ErrInvalidOverride, target)
	}

	if rec == nil {
		if target == models.TierDormant {
			return Outcome{}, fmt.Errorf("%w: no record to mark dormant", ErrInvalidOverride)
		}
		next := &models.StateRecord{
			UserID:          key.UserID,
			TopicID:         key.TopicID,
			Tier:            target,
			EnteredAt:       now,
			LastUpdatedAt:   now,
			DecayParams:     decayParams(cfg, target),
			DominantEmotion: models.EmotionNone,
			Trigger:         models.Trigger{Reason: models.ReasonManual, Note: note},
		}
		ev := m.transition(next, models.TierNone, target, models.ReasonManual, "", note, 0, 0, now)
		return Outcome{Record: next, Transitions: []models.TransitionEvent{ev}}, nil
	}

	from := rec.State()
	if from == target {
		return Outcome{Record: rec.Clone()}, nil
	}

	next := rec.Clone()
	if target == models.TierDormant {
		var profile models.Distribution
		if next.DominantEmotion.Valid() {
			profile[next.DominantEmotion] = 1
		}
		next.Dormant = true
		next.DormantSince = now
		next.DormantProfile = profile
	} else {
		wake(next)
		next.Tier = target
		next.EnteredAt = now
		next.LastUpdatedAt = now
		next.DecayParams = decayParams(cfg, target)
	}
	next.EscalationMarks = nil
	next.EscalationCount = 0
	next.Trigger = models.Trigger{Reason: models.ReasonManual, Note: note}

	ev := m.transition(next, from, target, models.ReasonManual, "", note, next.LastScore, next.LastScore, now)
	return Outcome{Record: next, Transitions: []models.TransitionEvent{ev}}, nil
}
