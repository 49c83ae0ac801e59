package decay

import (
	"math"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// RelevanceConfig contains the per-tier relevance decay curves.
type RelevanceConfig struct {
	// ExponentialLambda is the daily decay rate for ST records (default 0.3).
	ExponentialLambda float64 `json:"exponential_lambda" yaml:"exponential_lambda"`
	// SigmoidK is the steepness of the MT curve (default 0.1).
	SigmoidK float64 `json:"sigmoid_k" yaml:"sigmoid_k"`
	// SigmoidMidpointDays is where the MT curve crosses 0.5 (default 60).
	SigmoidMidpointDays float64 `json:"sigmoid_midpoint_days" yaml:"sigmoid_midpoint_days"`
	// AsymptoticFloor is the LT relevance never decayed below (default 0.3).
	AsymptoticFloor float64 `json:"asymptotic_floor" yaml:"asymptotic_floor"`
	// AsymptoticMu is the daily decay rate above the LT floor (default 0.001).
	AsymptoticMu float64 `json:"asymptotic_mu" yaml:"asymptotic_mu"`
	// ResurgenceBoost multiplies relevance shortly after a resurgence (default 1.5).
	ResurgenceBoost float64 `json:"resurgence_boost" yaml:"resurgence_boost"`
	// ResurgenceWindow is how long the boost lasts (default 14 days).
	ResurgenceWindow time.Duration `json:"resurgence_window" yaml:"resurgence_window"`
}

// DefaultRelevanceConfig returns the default relevance configuration.
func DefaultRelevanceConfig() RelevanceConfig {
	return RelevanceConfig{
		ExponentialLambda:   0.3,
		SigmoidK:            0.1,
		SigmoidMidpointDays: 60,
		AsymptoticFloor:     0.3,
		AsymptoticMu:        0.001,
		ResurgenceBoost:     1.5,
		ResurgenceWindow:    14 * 24 * time.Hour,
	}
}

// RelevanceCalculator computes how relevant a record still is at a point in
// time. It is a pure function of the record and the clock, so it is never
// persisted and repeated sweeps cannot drift it.
type RelevanceCalculator struct {
	config RelevanceConfig
}

// NewRelevanceCalculator creates a new relevance calculator.
func NewRelevanceCalculator(config RelevanceConfig) *RelevanceCalculator {
	return &RelevanceCalculator{config: config}
}

// RelevanceComponents returns a breakdown of the relevance calculation.
type RelevanceComponents struct {
	Model          models.DecayModel `json:"model"`
	AgeDays        float64           `json:"age_days"`
	BaseRelevance  float64           `json:"base_relevance"`
	Boost          float64           `json:"boost"`
	FinalRelevance float64           `json:"final_relevance"`
}

// CalculateRelevance returns relevance in [0,1]. A nil record scores 0.
func (r *RelevanceCalculator) CalculateRelevance(rec *models.StateRecord, now time.Time) float64 {
	return r.CalculateComponents(rec, now).FinalRelevance
}

// CalculateComponents returns the individual components of the relevance calculation.
//
// Formula by decay model, with d = days since last update:
//
//	exponential  e^(−λ·d)
//	sigmoid      1 / (1 + e^(k·(d − h)))
//	asymptotic   floor + (1 − floor)·e^(−μ·d)
//
// A resurgence within the boost window multiplies the result, capped at 1.
func (r *RelevanceCalculator) CalculateComponents(rec *models.StateRecord, now time.Time) RelevanceComponents {
	if rec == nil {
		return RelevanceComponents{}
	}
	c := r.config

	ageDays := now.Sub(rec.LastUpdatedAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0 // Handle future timestamps gracefully
	}

	model := rec.DecayParams.Model
	if model == "" {
		model = models.DecayModelFor(rec.Tier)
	}

	var base float64
	switch model {
	case models.DecaySigmoid:
		base = 1 / (1 + math.Exp(c.SigmoidK*(ageDays-c.SigmoidMidpointDays)))
	case models.DecayAsymptotic:
		base = c.AsymptoticFloor + (1-c.AsymptoticFloor)*math.Exp(-c.AsymptoticMu*ageDays)
	default:
		base = math.Exp(-c.ExponentialLambda * ageDays)
	}

	boost := 1.0
	if !rec.LastResurgenceAt.IsZero() && c.ResurgenceBoost > 0 {
		since := now.Sub(rec.LastResurgenceAt)
		if since >= 0 && since <= c.ResurgenceWindow {
			boost = c.ResurgenceBoost
		}
	}

	return RelevanceComponents{
		Model:          model,
		AgeDays:        ageDays,
		BaseRelevance:  base,
		Boost:          boost,
		FinalRelevance: math.Min(1, base*boost),
	}
}

// GetConfig returns the current relevance configuration.
func (r *RelevanceCalculator) GetConfig() RelevanceConfig {
	return r.config
}
