// Package projection turns state records and window aggregates into the
// read-only context handed to the response layer.
package projection

import (
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

// Trend is the direction of short-term valence relative to the baseline.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// EmpathyLevel is the recommended depth of empathetic response.
type EmpathyLevel string

const (
	EmpathyLight    EmpathyLevel = "light"
	EmpathyModerate EmpathyLevel = "moderate"
	EmpathyHigh     EmpathyLevel = "high"
)

// Tone recommendations, one per empathy level.
const (
	ToneCasualSupportive    = "casual_supportive"
	ToneAttentiveValidating = "attentive_validating"
	ToneDeeplyEmpathetic    = "deeply_empathetic_cautious"
)

// Context flags.
const (
	FlagCasual                      = "casual"
	FlagAttentive                   = "attentive"
	FlagDeepEmpathy                 = "deep_empathy"
	FlagAcknowledgeOngoingStruggles = "acknowledge_ongoing_struggles"
	FlagAvoidToxicPositivity        = "avoid_toxic_positivity"
	FlagExtraSensitivity            = "extra_sensitivity"
	FlagDormantHistory              = "dormant_history"
)

// Context is the projected emotional state for one key or one user.
type Context struct {
	GeneratedAt        time.Time                         `json:"generated_at"`
	DominantEmotion    map[models.Horizon]models.Emotion `json:"dominant_emotion"`
	Valence            map[models.Horizon]float64        `json:"valence"`
	Flags              map[string]bool                   `json:"flags"`
	StateDistribution  map[models.Tier]float64           `json:"state_distribution"`
	UserID             string                            `json:"user_id"`
	TopicID            string                            `json:"topic_id,omitempty"`
	DominantTier       models.Tier                       `json:"dominant_tier"`
	Trend              Trend                             `json:"trend"`
	EmpathyLevel       EmpathyLevel                      `json:"empathy_level"`
	ToneRecommendation string                            `json:"tone_recommendation"`
	Topics             []string                          `json:"topics,omitempty"`
	Volatility         float64                           `json:"volatility"`
	Relevance          float64                           `json:"relevance"`
	HasState           bool                              `json:"has_state"`
	Dormant            bool                              `json:"dormant"`
}

// Neutral returns the well-defined context for a key with no data.
func Neutral(key models.Key, now time.Time) Context {
	return Context{
		GeneratedAt:        now,
		UserID:             key.UserID,
		TopicID:            key.TopicID,
		DominantTier:       models.TierNone,
		DominantEmotion:    map[models.Horizon]models.Emotion{},
		Valence:            map[models.Horizon]float64{},
		Flags:              map[string]bool{FlagCasual: true},
		StateDistribution:  map[models.Tier]float64{},
		Trend:              TrendStable,
		EmpathyLevel:       EmpathyLight,
		ToneRecommendation: ToneCasualSupportive,
	}
}
