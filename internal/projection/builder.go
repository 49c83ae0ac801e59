package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/internal/decay"
	"github.com/thebtf/emostate/pkg/models"
)

// Thresholds used by the builder.
const (
	// TrendThreshold is the valence difference that counts as a trend.
	TrendThreshold = 0.1
	// VolatilityThreshold marks a long-term state as sensitive.
	VolatilityThreshold = 0.2
	// HighEmpathyShare is the LT share of the state distribution for high empathy.
	HighEmpathyShare = 0.5
	// ModerateEmpathyShare is the MT share for moderate empathy.
	ModerateEmpathyShare = 0.4
)

// RecordReader is the subset of the record store used by the builder.
type RecordReader interface {
	GetState(ctx context.Context, key models.Key) (*models.StateRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*models.StateRecord, error)
}

// AggregateReader returns a consistent copy of a key's aggregates without
// mutating anything. The boolean is false when no window data exists.
type AggregateReader interface {
	Aggregates(ctx context.Context, key models.Key) (models.Aggregates, bool)
}

// Builder projects records and aggregates into contexts. It never writes.
type Builder struct {
	records   RecordReader
	windows   AggregateReader
	relevance *decay.RelevanceCalculator
	logger    zerolog.Logger
}

// NewBuilder creates a context builder.
func NewBuilder(records RecordReader, windows AggregateReader, relevance *decay.RelevanceCalculator, logger zerolog.Logger) *Builder {
	if relevance == nil {
		relevance = decay.NewRelevanceCalculator(decay.DefaultRelevanceConfig())
	}
	return &Builder{
		records:   records,
		windows:   windows,
		relevance: relevance,
		logger:    logger.With().Str("component", "context-builder").Logger(),
	}
}

// Build returns the context for one key. Missing data yields the neutral
// context; only storage failures are returned as errors.
func (b *Builder) Build(ctx context.Context, key models.Key, now time.Time) (Context, error) {
	rec, err := b.records.GetState(ctx, key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Context{}, fmt.Errorf("build context %s: %w", key, err)
	}
	if errors.Is(err, db.ErrNotFound) {
		rec = nil
	}
	aggs, ok := b.windows.Aggregates(ctx, key)
	if !ok {
		aggs = emptyAggregates()
	}
	return b.project(key, rec, aggs, now), nil
}

// Project builds a context from data the caller already holds.
func (b *Builder) Project(key models.Key, rec *models.StateRecord, aggs models.Aggregates, now time.Time) Context {
	return b.project(key, rec, aggs, now)
}

func (b *Builder) project(key models.Key, rec *models.StateRecord, aggs models.Aggregates, now time.Time) Context {
	c := Neutral(key, now)
	describeAggregates(&c, aggs)

	if rec == nil {
		return c
	}

	c.HasState = true
	c.Dormant = rec.Dormant
	c.Relevance = b.relevance.CalculateRelevance(rec, now)
	if rec.Dormant {
		c.DominantTier = models.TierDormant
		c.StateDistribution = map[models.Tier]float64{models.TierDormant: 1}
	} else {
		c.DominantTier = rec.Tier
		c.StateDistribution = map[models.Tier]float64{rec.Tier: 1}
	}
	applyGuidance(&c, baselineValence(rec.Tier, c.Valence))
	return c
}

// describeAggregates fills the per-horizon fields and the trend.
func describeAggregates(c *Context, aggs models.Aggregates) {
	for _, h := range models.AllHorizons {
		agg := aggs[h]
		if agg.Empty || agg.Count == 0 {
			continue
		}
		c.DominantEmotion[h] = agg.Dominant
		c.Valence[h] = agg.Distribution.Valence()
	}
	c.Volatility = aggs[models.HorizonST].Volatility
	c.Trend = trend(c.Valence)
}

// trend compares short-term valence to the mid-term baseline, or the
// long-term one when mid-term has no data.
func trend(valence map[models.Horizon]float64) Trend {
	st, ok := valence[models.HorizonST]
	if !ok {
		return TrendStable
	}
	base, ok := valence[models.HorizonMT]
	if !ok {
		if base, ok = valence[models.HorizonLT]; !ok {
			return TrendStable
		}
	}
	switch diff := st - base; {
	case diff > TrendThreshold:
		return TrendImproving
	case diff < -TrendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// baselineValence is the valence of the horizon matching the tier, falling
// back to shorter horizons.
func baselineValence(t models.Tier, valence map[models.Horizon]float64) float64 {
	h := models.HorizonST
	switch t {
	case models.TierMT:
		h = models.HorizonMT
	case models.TierLT:
		h = models.HorizonLT
	}
	for ; h >= models.HorizonST; h-- {
		if v, ok := valence[h]; ok {
			return v
		}
	}
	return 0
}

// applyGuidance derives flags, empathy and tone from the dominant tier and
// state distribution.
func applyGuidance(c *Context, valence float64) {
	flags := map[string]bool{}
	switch c.DominantTier {
	case models.TierMT:
		flags[FlagAttentive] = true
	case models.TierLT:
		flags[FlagDeepEmpathy] = true
	default:
		flags[FlagCasual] = true
	}
	longTerm := c.DominantTier == models.TierLT
	if (c.DominantTier == models.TierMT || longTerm) && valence < 0 {
		flags[FlagAcknowledgeOngoingStruggles] = true
	}
	if c.Trend == TrendDeclining || (longTerm && valence < 0) {
		flags[FlagAvoidToxicPositivity] = true
	}
	if longTerm && c.Volatility > VolatilityThreshold {
		flags[FlagExtraSensitivity] = true
	}
	if c.Dormant {
		flags[FlagDormantHistory] = true
	}
	c.Flags = flags

	switch {
	case c.StateDistribution[models.TierLT] >= HighEmpathyShare:
		c.EmpathyLevel = EmpathyHigh
		c.ToneRecommendation = ToneDeeplyEmpathetic
	case c.StateDistribution[models.TierMT] >= ModerateEmpathyShare:
		c.EmpathyLevel = EmpathyModerate
		c.ToneRecommendation = ToneAttentiveValidating
	default:
		c.EmpathyLevel = EmpathyLight
		c.ToneRecommendation = ToneCasualSupportive
	}
}

// BuildUser merges all topics of a user. Active records contribute their
// relevance to the state distribution; the per-horizon fields come from the
// most relevant active topic.
func (b *Builder) BuildUser(ctx context.Context, userID string, now time.Time) (Context, error) {
	recs, err := b.records.ListByUser(ctx, userID)
	if err != nil {
		return Context{}, fmt.Errorf("build user context %s: %w", userID, err)
	}
	userKey := models.Key{UserID: userID}
	if len(recs) == 0 {
		return Neutral(userKey, now), nil
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].TopicID < recs[j].TopicID })

	dist := map[models.Tier]float64{}
	var total float64
	var lead *models.StateRecord
	var leadRel float64
	var topics []string
	allDormant := true
	for _, rec := range recs {
		topics = append(topics, rec.TopicID)
		if rec.Dormant {
			continue
		}
		allDormant = false
		rel := b.relevance.CalculateRelevance(rec, now)
		dist[rec.Tier] += rel
		total += rel
		if lead == nil || rel > leadRel || (rel == leadRel && rec.Tier.Rank() > lead.Tier.Rank()) {
			lead, leadRel = rec, rel
		}
	}

	if allDormant {
		lead = recs[0]
	}
	leadAggs, ok := b.windows.Aggregates(ctx, lead.Key())
	if !ok {
		leadAggs = emptyAggregates()
	}

	c := b.project(userKey, lead, leadAggs, now)
	c.TopicID = ""
	c.Topics = topics
	if allDormant {
		return c, nil
	}

	if total > 0 {
		for t := range dist {
			dist[t] /= total
		}
	}
	c.StateDistribution = dist
	c.DominantTier = dominantTier(dist)
	c.Dormant = false
	c.Relevance = leadRel
	applyGuidance(&c, baselineValence(c.DominantTier, c.Valence))
	for _, rec := range recs {
		if rec.Dormant {
			c.Flags[FlagDormantHistory] = true
		}
	}
	return c, nil
}

// dominantTier is the tier with the largest share; ties go to the higher tier.
func dominantTier(dist map[models.Tier]float64) models.Tier {
	best := models.TierNone
	bestShare := -1.0
	for _, t := range models.ActiveTiers {
		share, ok := dist[t]
		if !ok {
			continue
		}
		if share >= bestShare {
			best, bestShare = t, share
		}
	}
	return best
}

func emptyAggregates() models.Aggregates {
	var aggs models.Aggregates
	for _, h := range models.AllHorizons {
		aggs[h] = models.EmptyAggregate(h, 0)
	}
	return aggs
}
