// Package extract provides model-backed emotion extractors for the signal
// adapter.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/rs/zerolog"

	"github.com/thebtf/emostate/internal/privacy"
	"github.com/thebtf/emostate/pkg/models"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4o-mini"
	// DefaultTimeout bounds one inference call including retries.
	DefaultTimeout = 20 * time.Second
	// DefaultMaxRetries is the number of attempts for retryable failures.
	DefaultMaxRetries = 3
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("extract: empty text")

// Config configures the OpenAI extractor.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// inference is the structured output requested from the model.
type inference struct {
	Joy        float64 `json:"joy" jsonschema:"required"`
	Sadness    float64 `json:"sadness" jsonschema:"required"`
	Anger      float64 `json:"anger" jsonschema:"required"`
	Anxiety    float64 `json:"anxiety" jsonschema:"required"`
	Calm       float64 `json:"calm" jsonschema:"required"`
	Excitement float64 `json:"excitement" jsonschema:"required"`
	Confidence float64 `json:"confidence" jsonschema:"required"`
}

func (in inference) distribution() models.Distribution {
	var d models.Distribution
	d[models.Joy] = in.Joy
	d[models.Sadness] = in.Sadness
	d[models.Anger] = in.Anger
	d[models.Anxiety] = in.Anxiety
	d[models.Calm] = in.Calm
	d[models.Excitement] = in.Excitement
	return d
}

var inferenceSchema = generateSchema[inference]()

const instructions = `You rate the emotional content of a single user message.
Return a probability for each of: joy, sadness, anger, anxiety, calm, excitement.
The six values must sum to 1. Also return confidence in [0,1]: how clearly the
message expresses emotion at all. Neutral or ambiguous messages get low confidence.`

// OpenAI infers emotion distributions through the Responses API.
type OpenAI struct {
	client     openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     zerolog.Logger
}

// NewOpenAI creates an extractor. An API key is required.
func NewOpenAI(cfg Config, logger zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("extract: OPENAI_API_KEY is required for the openai extractor")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    defaultBackoff,
		logger:     logger.With().Str("component", "extractor").Str("model", cfg.Model).Logger(),
	}, nil
}

// Infer returns the normalized distribution and the model's confidence.
// Credentials in text are redacted before the request is sent.
func (o *OpenAI) Infer(ctx context.Context, text string) (models.Distribution, float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Distribution{}, 0, ErrEmptyText
	}
	text, redacted := privacy.Redact(text)
	if redacted > 0 {
		o.logger.Debug().Int("redacted", redacted).Msg("Redacted secrets from message text")
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(200),
		Instructions:    openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "EmotionSignal",
					Schema:      inferenceSchema,
					Strict:      openai.Bool(true),
					Description: openai.String("Per-message emotion distribution"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := o.callWithRetry(ctx, params)
	if err != nil {
		return models.Distribution{}, 0, err
	}
	return decodeInference(resp.OutputText())
}

func (o *OpenAI) callWithRetry(ctx context.Context, params responses.ResponseNewParams) (*responses.Response, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		resp, err := o.client.Responses.New(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == o.maxRetries-1 {
			break
		}
		wait := o.backoff(attempt)
		o.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying emotion inference")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("emotion inference: %w", lastErr)
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 500 * time.Millisecond
}

// retryable reports rate limits and server errors.
func retryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "server_error")
}

// decodeInference parses model output. A JSON object embedded in surrounding
// text is accepted. The distribution is renormalized; an all-zero
// distribution is an error.
func decodeInference(output string) (models.Distribution, float64, error) {
	s := strings.TrimSpace(output)
	if s == "" {
		return models.Distribution{}, 0, io.ErrUnexpectedEOF
	}
	var in inference
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		start := strings.IndexByte(s, '{')
		end := strings.LastIndexByte(s, '}')
		if start == -1 || end <= start {
			return models.Distribution{}, 0, fmt.Errorf("no JSON object in model output (len=%d)", len(s))
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &in); err != nil {
			return models.Distribution{}, 0, fmt.Errorf("decode model output: %w", err)
		}
	}

	d := in.distribution()
	for _, v := range d {
		if v < 0 {
			return models.Distribution{}, 0, errors.New("model output has negative probability")
		}
	}
	if d.IsZero() {
		return models.Distribution{}, 0, errors.New("model output has no emotion mass")
	}
	conf := in.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return d.Normalized(), conf, nil
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	strictObject(m)
	return m
}

// strictObject marks every object closed with all properties required, as
// strict structured output demands.
func strictObject(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			schema["required"] = required
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				strictObject(pm)
			}
		}
	}
	delete(schema, "$schema")
	delete(schema, "$id")
}
