package state

import (
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// InactivityConfig holds the per-tier inactivity windows after which an
// active record decays to dormant.
type InactivityConfig struct {
	ST time.Duration `json:"st" yaml:"st"`
	MT time.Duration `json:"mt" yaml:"mt"`
	LT time.Duration `json:"lt" yaml:"lt"`
}

// For returns the inactivity window for a tier. Non-active tiers get zero.
func (c InactivityConfig) For(t models.Tier) time.Duration {
	switch t {
	case models.TierST:
		return c.ST
	case models.TierMT:
		return c.MT
	case models.TierLT:
		return c.LT
	default:
		return 0
	}
}

// Config holds the transition rule parameters.
type Config struct {
	Inactivity InactivityConfig `json:"inactivity" yaml:"inactivity"`

	// CompoundingWindow is the trailing window in which ST episodes count.
	CompoundingWindow time.Duration `json:"compounding_window" yaml:"compounding_window"`
	// CompoundingMinGap merges ST events closer than this into one episode,
	// so a burst of messages counts once. Zero counts every event.
	CompoundingMinGap time.Duration `json:"compounding_min_gap" yaml:"compounding_min_gap"`
	// CompoundingThreshold is the episode count that promotes ST to MT.
	CompoundingThreshold int `json:"compounding_threshold" yaml:"compounding_threshold"`
	// CompoundingSameEmotion counts only episodes whose emotion matches the
	// incoming event. Off by default: the (user, topic) key already scopes
	// episodes to one domain.
	CompoundingSameEmotion bool `json:"compounding_same_emotion" yaml:"compounding_same_emotion"`

	// PromotionMentions is the number of MT-classified episodes an MT record
	// needs before it can be promoted to LT. Zero disables promotion.
	PromotionMentions int `json:"promotion_mentions" yaml:"promotion_mentions"`
	// PromotionMinDuration is how long a record must have been MT before the
	// mentions promote it to LT.
	PromotionMinDuration time.Duration `json:"promotion_min_duration" yaml:"promotion_min_duration"`

	// ResurgenceSimilarity is the minimum cosine similarity between the new
	// event and the profile recorded at dormancy onset.
	ResurgenceSimilarity float64 `json:"resurgence_similarity" yaml:"resurgence_similarity"`
	// AnniversaryTolerance is how close to a yearly anniversary of EnteredAt
	// an event must fall to trigger resurgence.
	AnniversaryTolerance time.Duration `json:"anniversary_tolerance" yaml:"anniversary_tolerance"`
}

// DefaultConfig returns the default transition configuration.
func DefaultConfig() Config {
	return Config{
		Inactivity: InactivityConfig{
			ST: 14 * 24 * time.Hour,
			MT: 45 * 24 * time.Hour,
			LT: 90 * 24 * time.Hour,
		},
		CompoundingWindow:      7 * 24 * time.Hour,
		CompoundingMinGap:      12 * time.Hour,
		CompoundingThreshold:   3,
		CompoundingSameEmotion: false,
		PromotionMentions:      5,
		PromotionMinDuration:   60 * 24 * time.Hour,
		ResurgenceSimilarity:   0.75,
		AnniversaryTolerance:   7 * 24 * time.Hour,
	}
}
