package scoring

import (
	"math"

	"github.com/thebtf/emostate/pkg/models"
)

// Classify maps a significance score to a tier. Boundary values belong to the
// upper tier. NaN and negative scores classify as ST so every input maps to
// exactly one tier.
func Classify(ss float64) models.Tier {
	switch {
	case math.IsNaN(ss) || ss < models.MTThreshold:
		return models.TierST
	case ss < models.LTThreshold:
		return models.TierMT
	default:
		return models.TierLT
	}
}

// Thresholds returns the classification boundaries keyed by tier, for reporting.
func Thresholds() map[models.Tier]float64 {
	return map[models.Tier]float64{
		models.TierST: 0,
		models.TierMT: models.MTThreshold,
		models.TierLT: models.LTThreshold,
	}
}
