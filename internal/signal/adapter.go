// Package signal validates raw emotion signals at the engine boundary and
// turns them into immutable signal events.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/thebtf/emostate/pkg/models"
)

// DefaultMinConfidence is the lowest confidence the engine classifies on.
const DefaultMinConfidence = 0.65

// DefaultSumTolerance is how far a distribution may stray from 1.0 before it
// is rejected instead of renormalized.
const DefaultSumTolerance = 1e-3

// RawSignal is the caller-supplied form of one per-message signal.
type RawSignal struct {
	Timestamp    time.Time          `json:"timestamp" validate:"required"`
	Distribution map[string]float64 `json:"distribution" validate:"required,min=1,dive,keys,emotion,endkeys,gte=0,lte=1"`
	Features     map[string]float64 `json:"features,omitempty"`
	Confidence   *float64           `json:"confidence" validate:"required,gte=0,lte=1"`
	ID           string             `json:"id,omitempty" validate:"omitempty,max=128"`
	UserID       string             `json:"user_id" validate:"required,max=256"`
	TopicID      string             `json:"topic_id,omitempty" validate:"max=256"`
}

// Extractor infers an emotion distribution and confidence from message text.
type Extractor interface {
	Infer(ctx context.Context, text string) (models.Distribution, float64, error)
}

// Config holds adapter thresholds.
type Config struct {
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
	SumTolerance  float64 `json:"sum_tolerance" yaml:"sum_tolerance"`
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultMinConfidence,
		SumTolerance:  DefaultSumTolerance,
	}
}

// Adapter validates raw signals.
type Adapter struct {
	validate *validator.Validate
	newID    func() string
	config   Config
}

// NewAdapter creates an adapter. Zero thresholds fall back to the defaults.
func NewAdapter(cfg Config) *Adapter {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.SumTolerance <= 0 {
		cfg.SumTolerance = DefaultSumTolerance
	}
	v := validator.New()
	_ = v.RegisterValidation("emotion", validateEmotion)
	return &Adapter{validate: v, newID: uuid.NewString, config: cfg}
}

// Config returns the adapter thresholds.
func (a *Adapter) Config() Config {
	return a.config
}

func validateEmotion(fl validator.FieldLevel) bool {
	e, ok := models.ParseEmotion(fl.Field().String())
	return ok && e.Valid()
}

// Normalize validates raw and returns the signal event. Malformed input
// yields a *ValidationError; a well-formed signal below the confidence
// threshold yields a *LowConfidenceError. Missing IDs are generated.
func (a *Adapter) Normalize(raw RawSignal) (models.SignalEvent, error) {
	if err := a.validate.Struct(&raw); err != nil {
		return models.SignalEvent{}, toValidationError(err)
	}

	dist, err := models.DistributionFromMap(raw.Distribution)
	if err != nil {
		return models.SignalEvent{}, &ValidationError{Field: "distribution", Reason: err.Error()}
	}
	sum := dist.Sum()
	if math.IsNaN(sum) || math.Abs(sum-1) > a.config.SumTolerance {
		return models.SignalEvent{}, &ValidationError{
			Field:  "distribution",
			Reason: fmt.Sprintf("weights sum to %.6f, want 1.0", sum),
		}
	}

	conf := *raw.Confidence
	if conf < a.config.MinConfidence {
		return models.SignalEvent{}, &LowConfidenceError{Confidence: conf, Threshold: a.config.MinConfidence}
	}

	id := raw.ID
	if id == "" {
		id = a.newID()
	}
	var features map[string]float64
	if len(raw.Features) > 0 {
		features = make(map[string]float64, len(raw.Features))
		for k, v := range raw.Features {
			features[k] = v
		}
	}

	return models.SignalEvent{
		ID:           id,
		UserID:       raw.UserID,
		TopicID:      raw.TopicID,
		Timestamp:    raw.Timestamp.UTC(),
		Distribution: dist.Normalized(),
		Confidence:   conf,
		Features:     features,
	}, nil
}

// Validate checks ev against the same rules as Normalize and returns the
// normalized event: a generated ID when ev has none, a renormalized
// distribution and a UTC timestamp.
func (a *Adapter) Validate(ev models.SignalEvent) (models.SignalEvent, error) {
	conf := ev.Confidence
	return a.Normalize(RawSignal{
		ID:           ev.ID,
		UserID:       ev.UserID,
		TopicID:      ev.TopicID,
		Timestamp:    ev.Timestamp,
		Distribution: ev.Distribution.Map(),
		Confidence:   &conf,
		Features:     ev.Features,
	})
}

// FromMessage runs ex on text and normalizes the result.
func (a *Adapter) FromMessage(ctx context.Context, ex Extractor, userID, topicID, text string, ts time.Time) (models.SignalEvent, error) {
	dist, conf, err := ex.Infer(ctx, text)
	if err != nil {
		return models.SignalEvent{}, fmt.Errorf("infer emotion: %w", err)
	}
	return a.Normalize(RawSignal{
		UserID:       userID,
		TopicID:      topicID,
		Timestamp:    ts,
		Distribution: dist.Map(),
		Confidence:   &conf,
	})
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "UserID":
		field = "user_id"
	case "TopicID":
		field = "topic_id"
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	if fe.Tag() == "emotion" {
		reason = fmt.Sprintf("unknown emotion %v", fe.Value())
	}
	return &ValidationError{Field: field, Reason: reason}
}
