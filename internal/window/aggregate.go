package window

import (
	"math"

	"github.com/thebtf/emostate/pkg/models"
)

// RecencyWeights returns normalized exponential recency weights for a window
// of n events ordered oldest first: w(i) ∝ e^(−k·(n−1−i)), so the newest
// event carries the largest weight.
func RecencyWeights(n int, k float64) []float64 {
	if n <= 0 {
		return nil
	}
	weights := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		w := math.Exp(-k * float64(n-1-i))
		weights[i] = w
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// Compute builds the aggregate for one horizon from its events (oldest first).
//
// The weighted distribution is Σ w(i)·d(i), renormalized to sum to 1.
// Confidence is the weighted mean of event confidences with the same weights.
// Volatility is the population standard deviation of each raw event's weight
// on the aggregate's dominant emotion.
func Compute(h models.Horizon, capacity int, events []models.SignalEvent, k float64) models.WindowAggregate {
	if len(events) == 0 {
		return models.EmptyAggregate(h, capacity)
	}

	weights := RecencyWeights(len(events), k)

	var dist models.Distribution
	var conf float64
	oldest, newest := events[0].Timestamp, events[0].Timestamp
	for i, ev := range events {
		w := weights[i]
		for c := range dist {
			dist[c] += w * ev.Distribution[c]
		}
		conf += w * ev.Confidence
		if ev.Timestamp.Before(oldest) {
			oldest = ev.Timestamp
		}
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	dist = dist.Normalized()
	if dist.IsZero() {
		return models.EmptyAggregate(h, capacity)
	}
	dominant := dist.Dominant()

	return models.WindowAggregate{
		Horizon:      h,
		Capacity:     capacity,
		Count:        len(events),
		Distribution: dist,
		Dominant:     dominant,
		Confidence:   conf,
		Volatility:   volatility(events, dominant),
		Oldest:       oldest,
		Newest:       newest,
		Span:         newest.Sub(oldest),
	}
}

// volatility is the population standard deviation of the raw, unweighted
// scores of one emotion across events.
func volatility(events []models.SignalEvent, e models.Emotion) float64 {
	if len(events) < 2 || !e.Valid() {
		return 0
	}
	var mean float64
	for _, ev := range events {
		mean += ev.Distribution[e]
	}
	mean /= float64(len(events))

	var variance float64
	for _, ev := range events {
		d := ev.Distribution[e] - mean
		variance += d * d
	}
	variance /= float64(len(events))
	return math.Sqrt(variance)
}
