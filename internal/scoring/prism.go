// Package scoring computes the PRISM significance score from horizon
// aggregates and classifies it into a tier.
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// Calculator computes significance scores from window aggregates.
// Safe for concurrent use; UpdateConfig swaps the weights atomically.
type Calculator struct {
	config *models.ScoringConfig
	mu     sync.RWMutex
}

// NewCalculator creates a new significance calculator.
// If config is nil, uses the default configuration.
func NewCalculator(config *models.ScoringConfig) *Calculator {
	if config == nil {
		config = models.DefaultScoringConfig()
	}
	return &Calculator{config: config}
}

// Calculate computes the significance score for the given aggregates and the
// number of qualifying events inside the frequency window.
//
// The scoring formula:
//
//	SS = Σ_h (W_h × conf_h × mag_h × fill_h × persist_h) + F × min(freq, FreqCap)
//
// Where:
//   - W_h = horizon weight, increasing from ST to LT
//   - conf_h = aggregate confidence
//   - mag_h = distance of the distribution from uniform, in [0,1]
//   - fill_h = min(1, count / capacity)
//   - persist_h = min(1, span / P_h); 1 when P_h is zero
//   - F = frequency weight per qualifying event
func (c *Calculator) Calculate(aggs models.Aggregates, freq int) float64 {
	return c.CalculateComponents(aggs, freq).FinalScore
}

// CalculateComponents returns the per-horizon breakdown of the score.
// Calculate() delegates to this.
func (c *Calculator) CalculateComponents(aggs models.Aggregates, freq int) ScoreComponents {
	cfg := c.GetConfig()

	var comps ScoreComponents
	var total float64
	for _, h := range models.AllHorizons {
		agg := aggs[h]
		hc := HorizonComponents{Horizon: h, Weight: cfg.HorizonWeights[h]}
		if !agg.Empty {
			hc.Confidence = clamp01(agg.Confidence)
			hc.Magnitude = agg.Distribution.Intensity()
			hc.Fill = agg.Fill()
			hc.Persistence = persistence(agg.Span, cfg.PersistenceSpans[h])
			hc.Contribution = hc.Weight * hc.Confidence * hc.Magnitude * hc.Fill * hc.Persistence
		}
		comps.Horizons[h] = hc
		total += hc.Contribution
	}

	if freq < 0 {
		freq = 0
	}
	if freq > cfg.FrequencyCap {
		freq = cfg.FrequencyCap
	}
	comps.Frequency = freq
	comps.FrequencyContrib = cfg.FrequencyWeight * float64(freq)
	comps.FinalScore = total + comps.FrequencyContrib
	return comps
}

func persistence(span, required time.Duration) float64 {
	if required <= 0 {
		return 1
	}
	if span <= 0 {
		return 0
	}
	return math.Min(1, float64(span)/float64(required))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HorizonComponents is one horizon's share of the score.
type HorizonComponents struct {
	Horizon      models.Horizon `json:"horizon"`
	Weight       float64        `json:"weight"`
	Confidence   float64        `json:"confidence"`
	Magnitude    float64        `json:"magnitude"`
	Fill         float64        `json:"fill"`
	Persistence  float64        `json:"persistence"`
	Contribution float64        `json:"contribution"`
}

// ScoreComponents contains the breakdown of a significance score calculation.
type ScoreComponents struct {
	Horizons         [models.NumHorizons]HorizonComponents `json:"horizons"`
	Frequency        int                                   `json:"frequency"`
	FrequencyContrib float64                               `json:"frequency_contrib"`
	FinalScore       float64                               `json:"final_score"`
}

// FrequencyWindow returns the trailing window for counting qualifying events.
func (c *Calculator) FrequencyWindow() time.Duration {
	return c.GetConfig().FrequencyWindow
}

// UpdateConfig updates the calculator's scoring configuration.
// This allows runtime tuning of scoring parameters.
func (c *Calculator) UpdateConfig(config *models.ScoringConfig) {
	if config == nil {
		return
	}
	c.mu.Lock()
	c.config = config
	c.mu.Unlock()
}

// GetConfig returns the current scoring configuration.
func (c *Calculator) GetConfig() *models.ScoringConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}
