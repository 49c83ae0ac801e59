package models

import "time"

// Classification thresholds. Boundary values belong to the upper tier.
const (
	// MTThreshold is the lowest significance score classified as MT.
	MTThreshold = 15.0
	// LTThreshold is the lowest significance score classified as LT.
	LTThreshold = 75.0
)

// ScoringConfig contains the PRISM significance weights.
type ScoringConfig struct {
	// HorizonWeights scale each horizon's contribution; they increase ST→LT
	// because persistence outweighs a single-message spike.
	HorizonWeights [NumHorizons]float64 `json:"horizon_weights" yaml:"horizon_weights"`

	// PersistenceSpans is the time span a horizon window must cover to count
	// fully. Zero disables the span factor for that horizon.
	PersistenceSpans [NumHorizons]time.Duration `json:"persistence_spans" yaml:"persistence_spans"`

	// FrequencyWeight is the bonus per qualifying event in FrequencyWindow.
	FrequencyWeight float64 `json:"frequency_weight" yaml:"frequency_weight"`

	// FrequencyWindow is the trailing window for the frequency bonus.
	FrequencyWindow time.Duration `json:"frequency_window" yaml:"frequency_window"`

	// FrequencyCap bounds the number of events that earn the bonus.
	FrequencyCap int `json:"frequency_cap" yaml:"frequency_cap"`
}

// DefaultScoringConfig returns the default PRISM configuration.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		HorizonWeights: [NumHorizons]float64{8, 24, 60},
		PersistenceSpans: [NumHorizons]time.Duration{
			0,                   // ST counts fully as soon as it is full
			14 * 24 * time.Hour, // MT needs two weeks of history
			60 * 24 * time.Hour, // LT needs two months of history
		},
		FrequencyWeight: 0.25,
		FrequencyWindow: 7 * 24 * time.Hour,
		FrequencyCap:    12,
	}
}

// MaxScore is the largest significance score the configuration can produce.
func (c *ScoringConfig) MaxScore() float64 {
	var total float64
	for _, w := range c.HorizonWeights {
		total += w
	}
	return total + c.FrequencyWeight*float64(c.FrequencyCap)
}
