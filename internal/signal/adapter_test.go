package signal

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/emostate/pkg/models"
)

// AdapterSuite validates signal normalization.
type AdapterSuite struct {
	suite.Suite
	adapter *Adapter
	now     time.Time
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	s.adapter = NewAdapter(DefaultConfig())
	s.adapter.newID = func() string { return "generated" }
	s.now = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
}

func conf(v float64) *float64 { return &v }

func (s *AdapterSuite) raw() RawSignal {
	return RawSignal{
		ID:        "sig-1",
		UserID:    "u1",
		TopicID:   "work",
		Timestamp: s.now,
		Distribution: map[string]float64{
			"joy": 0.7, "sadness": 0.05, "anger": 0.05, "anxiety": 0.05, "calm": 0.1, "excitement": 0.05,
		},
		Confidence: conf(0.9),
		Features:   map[string]float64{"length": 12},
	}
}

func (s *AdapterSuite) TestNormalize_Valid() {
	ev, err := s.adapter.Normalize(s.raw())
	s.Require().NoError(err)
	s.Equal("sig-1", ev.ID)
	s.Equal(models.Key{UserID: "u1", TopicID: "work"}, ev.Key())
	s.Equal(models.Joy, ev.Dominant())
	s.InDelta(1.0, ev.Distribution.Sum(), 1e-12)
	s.Equal(0.9, ev.Confidence)
	s.Equal(12.0, ev.Features["length"])
}

func (s *AdapterSuite) TestNormalize_GeneratesID() {
	raw := s.raw()
	raw.ID = ""
	ev, err := s.adapter.Normalize(raw)
	s.Require().NoError(err)
	s.Equal("generated", ev.ID)
}

func (s *AdapterSuite) TestNormalize_RenormalizesWithinTolerance() {
	raw := s.raw()
	raw.Distribution = map[string]float64{"sadness": 0.6004, "anxiety": 0.4}
	ev, err := s.adapter.Normalize(raw)
	s.Require().NoError(err)
	s.InDelta(1.0, ev.Distribution.Sum(), 1e-12)
	s.InDelta(0.6004/1.0004, ev.Distribution[models.Sadness], 1e-12)
}

func (s *AdapterSuite) TestNormalize_Malformed() {
	tests := []struct {
		name   string
		mutate func(*RawSignal)
	}{
		{"missing user", func(r *RawSignal) { r.UserID = "" }},
		{"missing timestamp", func(r *RawSignal) { r.Timestamp = time.Time{} }},
		{"missing confidence", func(r *RawSignal) { r.Confidence = nil }},
		{"confidence above one", func(r *RawSignal) { r.Confidence = conf(1.2) }},
		{"negative confidence", func(r *RawSignal) { r.Confidence = conf(-0.1) }},
		{"nan confidence", func(r *RawSignal) { r.Confidence = conf(math.NaN()) }},
		{"empty distribution", func(r *RawSignal) { r.Distribution = map[string]float64{} }},
		{"unknown emotion", func(r *RawSignal) { r.Distribution = map[string]float64{"joy": 0.5, "boredom": 0.5} }},
		{"negative weight", func(r *RawSignal) { r.Distribution = map[string]float64{"joy": 1.2, "sadness": -0.2} }},
		{"sum too low", func(r *RawSignal) { r.Distribution = map[string]float64{"joy": 0.5} }},
		{"all zero", func(r *RawSignal) { r.Distribution = map[string]float64{"joy": 0} }},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			raw := s.raw()
			tt.mutate(&raw)
			_, err := s.adapter.Normalize(raw)
			s.Require().Error(err)
			s.True(errors.Is(err, ErrMalformed), "got %v", err)
			s.False(errors.Is(err, ErrLowConfidence))
			var verr *ValidationError
			s.True(errors.As(err, &verr))
		})
	}
}

func (s *AdapterSuite) TestNormalize_MalformedNamesField() {
	raw := s.raw()
	raw.UserID = ""
	_, err := s.adapter.Normalize(raw)
	var verr *ValidationError
	s.Require().True(errors.As(err, &verr))
	s.Equal("user_id", verr.Field)
}

func (s *AdapterSuite) TestNormalize_LowConfidenceIsDistinct() {
	raw := s.raw()
	raw.Confidence = conf(0.64)
	_, err := s.adapter.Normalize(raw)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrLowConfidence))
	s.False(errors.Is(err, ErrMalformed))

	var lerr *LowConfidenceError
	s.Require().True(errors.As(err, &lerr))
	s.Equal(0.64, lerr.Confidence)
	s.Equal(DefaultMinConfidence, lerr.Threshold)
}

func (s *AdapterSuite) TestNormalize_ThresholdIsInclusive() {
	raw := s.raw()
	raw.Confidence = conf(0.65)
	_, err := s.adapter.Normalize(raw)
	s.NoError(err)
}

func (s *AdapterSuite) TestValidate() {
	ev, err := s.adapter.Normalize(s.raw())
	s.Require().NoError(err)
	_, err = s.adapter.Validate(ev)
	s.NoError(err)

	ev.Confidence = 0.3
	_, err = s.adapter.Validate(ev)
	s.ErrorIs(err, ErrLowConfidence)

	ev.Distribution = models.Distribution{}
	_, err = s.adapter.Validate(ev)
	s.ErrorIs(err, ErrMalformed)
}

func (s *AdapterSuite) TestValidate_ReturnsNormalizedEvent() {
	local := time.FixedZone("UTC+2", 2*60*60)
	ev := models.SignalEvent{
		UserID:       "u1",
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, local),
		Distribution: models.Distribution{models.Joy: 0.6, models.Calm: 0.4005},
		Confidence:   0.9,
	}

	out, err := s.adapter.Validate(ev)
	s.Require().NoError(err)
	s.Equal("generated", out.ID)
	s.Equal(time.UTC, out.Timestamp.Location())
	s.True(out.Timestamp.Equal(ev.Timestamp))
	s.InDelta(1.0, out.Distribution.Sum(), 1e-12)

	ev.ID = "given"
	out, err = s.adapter.Validate(ev)
	s.Require().NoError(err)
	s.Equal("given", out.ID)
}

type mockExtractor struct {
	inferFn func(context.Context, string) (models.Distribution, float64, error)
}

func (m *mockExtractor) Infer(ctx context.Context, text string) (models.Distribution, float64, error) {
	return m.inferFn(ctx, text)
}

func TestFromMessage(t *testing.T) {
	a := NewAdapter(Config{})
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var sad models.Distribution
	sad[models.Sadness] = 0.8
	sad[models.Calm] = 0.2
	ex := &mockExtractor{inferFn: func(_ context.Context, text string) (models.Distribution, float64, error) {
		assert.Equal(t, "rough day", text)
		return sad, 0.8, nil
	}}

	ev, err := a.FromMessage(context.Background(), ex, "u1", "", "rough day", ts)
	require.NoError(t, err)
	assert.Equal(t, models.Sadness, ev.Dominant())
	assert.Equal(t, ts, ev.Timestamp)
	assert.NotEmpty(t, ev.ID)

	failing := &mockExtractor{inferFn: func(context.Context, string) (models.Distribution, float64, error) {
		return models.Distribution{}, 0, errors.New("model offline")
	}}
	_, err = a.FromMessage(context.Background(), failing, "u1", "", "hi", ts)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformed))

	unsure := &mockExtractor{inferFn: func(context.Context, string) (models.Distribution, float64, error) {
		return sad, 0.4, nil
	}}
	_, err = a.FromMessage(context.Background(), unsure, "u1", "", "meh", ts)
	assert.ErrorIs(t, err, ErrLowConfidence)
}

func TestNewAdapterDefaults(t *testing.T) {
	a := NewAdapter(Config{})
	assert.Equal(t, DefaultConfig(), a.Config())
}
