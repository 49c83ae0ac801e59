// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thebtf/emostate/pkg/models"
)

// Signal ingestion results.
const (
	ResultAccepted      = "accepted"
	ResultDuplicate     = "duplicate"
	ResultLowConfidence = "low_confidence"
	ResultMalformed     = "malformed"
	ResultConflict      = "conflict"
	ResultError         = "error"
)

// Sweep record outcomes.
const (
	OutcomeDormant   = "dormant"
	OutcomeExpired   = "expired"
	OutcomeStability = "stability"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	signals       *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	score         prometheus.Histogram
	sweepDuration prometheus.Histogram
	sweepRecords  *prometheus.CounterVec
	records       *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emostate",
			Name:      "signals_total",
			Help:      "Signals submitted, by ingestion result.",
		}, []string{"result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emostate",
			Name:      "transitions_total",
			Help:      "State transitions, by from, to and reason.",
		}, []string{"from", "to", "reason"}),
		score: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emostate",
			Name:      "significance_score",
			Help:      "Distribution of computed significance scores.",
			Buckets:   []float64{1, 5, 10, 15, 25, 40, 60, 75, 85, 95},
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emostate",
			Name:      "decay_sweep_duration_seconds",
			Help:      "Wall time of decay sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		sweepRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emostate",
			Name:      "decay_records_total",
			Help:      "Records visited by decay sweeps, by outcome.",
		}, []string{"outcome"}),
		records: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "emostate",
			Name:      "records",
			Help:      "State records by state, as of the last refresh.",
		}, []string{"state"}),
	}
}

// Signal counts one ingestion result.
func (m *Metrics) Signal(result string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(result).Inc()
}

// Transition counts one state transition.
func (m *Metrics) Transition(ev models.TransitionEvent) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(ev.From), string(ev.To), string(ev.Reason)).Inc()
}

// Score observes a significance score.
func (m *Metrics) Score(ss float64) {
	if m == nil {
		return
	}
	m.score.Observe(ss)
}

// Sweep observes one completed sweep.
func (m *Metrics) Sweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
}

// SweepRecord counts one record outcome of a sweep.
func (m *Metrics) SweepRecord(outcome string) {
	if m == nil {
		return
	}
	m.sweepRecords.WithLabelValues(outcome).Inc()
}

// SetRecords replaces the per-state record gauges.
func (m *Metrics) SetRecords(counts map[models.Tier]int64) {
	if m == nil {
		return
	}
	for _, t := range []models.Tier{models.TierST, models.TierMT, models.TierLT, models.TierDormant} {
		m.records.WithLabelValues(string(t)).Set(float64(counts[t]))
	}
}
