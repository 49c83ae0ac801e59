package state

import (
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// recordEpisode counts an ST-classified event toward compounding and reports
// whether the threshold was reached. Marks outside the trailing window are
// pruned first, so the counter is always recomputed from the window.
func (m *Machine) recordEpisode(cfg Config, rec *models.StateRecord, ev models.SignalEvent, now time.Time) bool {
	emotion := ev.Dominant()
	rec.EscalationMarks = pruneMarks(rec.EscalationMarks, now.Add(-cfg.CompoundingWindow))

	matches := func(mk models.EscalationMark) bool {
		return !cfg.CompoundingSameEmotion || mk.Emotion == emotion
	}

	sameEpisode := false
	if cfg.CompoundingMinGap > 0 {
		for _, mk := range rec.EscalationMarks {
			if matches(mk) && now.Sub(mk.At) < cfg.CompoundingMinGap {
				sameEpisode = true
				break
			}
		}
	}
	if !sameEpisode {
		rec.EscalationMarks = append(rec.EscalationMarks, models.EscalationMark{At: now, Emotion: emotion})
	}

	count := 0
	for _, mk := range rec.EscalationMarks {
		if matches(mk) {
			count++
		}
	}
	rec.EscalationCount = count

	threshold := cfg.CompoundingThreshold
	if threshold <= 0 {
		return false
	}
	return count >= threshold
}

// recordMention counts an MT-classified event on an MT record and reports
// whether the record has persisted long enough to be promoted to LT. Marks are
// kept since the record entered MT and stop growing at the threshold.
func (m *Machine) recordMention(cfg Config, rec *models.StateRecord, ev models.SignalEvent, now time.Time) bool {
	threshold := cfg.PromotionMentions
	if threshold <= 0 {
		return false
	}

	n := len(rec.EscalationMarks)
	sameEpisode := n > 0 && cfg.CompoundingMinGap > 0 && now.Sub(rec.EscalationMarks[n-1].At) < cfg.CompoundingMinGap
	if !sameEpisode && n < threshold {
		rec.EscalationMarks = append(rec.EscalationMarks, models.EscalationMark{At: now, Emotion: ev.Dominant()})
	}
	rec.EscalationCount = len(rec.EscalationMarks)

	return rec.EscalationCount >= threshold && now.Sub(rec.EnteredAt) >= cfg.PromotionMinDuration
}

// pruneMarks drops marks older than cutoff. It always returns a fresh slice.
func pruneMarks(marks models.EscalationMarks, cutoff time.Time) models.EscalationMarks {
	var kept models.EscalationMarks
	for _, mk := range marks {
		if !mk.At.Before(cutoff) {
			kept = append(kept, mk)
		}
	}
	return kept
}
