package state

import (
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// resurges reports whether a signal for a dormant long-term record matches a
// recurrence trigger: a yearly anniversary of the original entry, or the
// dormancy-onset emotion with a similar profile.
func (m *Machine) resurges(cfg Config, rec *models.StateRecord, ev models.SignalEvent, now time.Time) bool {
	if onAnniversary(rec.EnteredAt, now, cfg.AnniversaryTolerance) {
		return true
	}
	if !rec.DominantEmotion.Valid() || ev.Dominant() != rec.DominantEmotion {
		return false
	}
	if rec.DormantProfile.IsZero() {
		return true
	}
	return ev.Distribution.Cosine(rec.DormantProfile) >= cfg.ResurgenceSimilarity
}

// onAnniversary reports whether now lies within tol of a whole-year offset
// (one year or more) from origin.
func onAnniversary(origin, now time.Time, tol time.Duration) bool {
	if origin.IsZero() || tol <= 0 || !now.After(origin) {
		return false
	}
	years := now.Year() - origin.Year()
	for n := years - 1; n <= years+1; n++ {
		if n < 1 {
			continue
		}
		d := now.Sub(origin.AddDate(n, 0, 0))
		if d < 0 {
			d = -d
		}
		if d <= tol {
			return true
		}
	}
	return false
}

func (m *Machine) resurge(cfg Config, rec *models.StateRecord, in Input, now time.Time) Outcome {
	before := rec.LastScore

	wake(rec)
	rec.Tier = models.TierLT
	rec.LastResurgenceAt = now
	rec.DecayParams = decayParams(cfg, models.TierLT)
	rec.EscalationMarks = nil
	rec.EscalationCount = 0
	m.refresh(rec, in, now)
	rec.Trigger = models.Trigger{SignalID: in.Event.ID, Reason: models.ReasonResurgence}

	ev := m.transition(rec, models.TierDormant, models.TierLT, models.ReasonResurgence, in.Event.ID, "", before, in.Score, now)
	return Outcome{Record: rec, Transitions: []models.TransitionEvent{ev}}
}
