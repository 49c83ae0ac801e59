package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/emostate/internal/db/memory"
	"github.com/thebtf/emostate/internal/window"
	"github.com/thebtf/emostate/pkg/models"
)

type mockAggregates struct {
	aggregatesFn func(context.Context, models.Key) (models.Aggregates, bool)
}

func (m *mockAggregates) Aggregates(ctx context.Context, key models.Key) (models.Aggregates, bool) {
	if m.aggregatesFn == nil {
		return models.Aggregates{}, false
	}
	return m.aggregatesFn(ctx, key)
}

type failingRecords struct{}

func (failingRecords) GetState(context.Context, models.Key) (*models.StateRecord, error) {
	return nil, errors.New("db down")
}

func (failingRecords) ListByUser(context.Context, string) ([]*models.StateRecord, error) {
	return nil, errors.New("db down")
}

// BuilderSuite validates context projection.
type BuilderSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	store   *memory.Store
	windows *window.Aggregator
	builder *Builder
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	s.store = memory.NewStore()
	s.windows = window.New(window.DefaultConfig())
	reader := &mockAggregates{aggregatesFn: func(_ context.Context, key models.Key) (models.Aggregates, bool) {
		return s.windows.Snapshot(key)
	}}
	s.builder = NewBuilder(s.store, reader, nil, zerolog.Nop())
}

func (s *BuilderSuite) feed(key models.Key, n int, start time.Time, step time.Duration, dist map[string]float64) {
	d, err := models.DistributionFromMap(dist)
	s.Require().NoError(err)
	for i := 0; i < n; i++ {
		s.windows.Add(models.SignalEvent{
			ID:           key.String() + time.Duration(i).String() + start.String(),
			UserID:       key.UserID,
			TopicID:      key.TopicID,
			Timestamp:    start.Add(time.Duration(i) * step),
			Distribution: d,
			Confidence:   0.9,
		})
	}
}

func (s *BuilderSuite) save(key models.Key, tier models.Tier, dormant bool, lastUpdate time.Time) {
	rec := &models.StateRecord{
		UserID:          key.UserID,
		TopicID:         key.TopicID,
		Tier:            tier,
		Dormant:         dormant,
		EnteredAt:       lastUpdate,
		LastUpdatedAt:   lastUpdate,
		DominantEmotion: models.Sadness,
		DecayParams:     models.DecayParams{Model: models.DecayModelFor(tier)},
	}
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))
}

func (s *BuilderSuite) TestBuild_UnknownKeyIsNeutral() {
	key := models.Key{UserID: "nobody"}
	c, err := s.builder.Build(s.ctx, key, s.now)
	s.Require().NoError(err)
	s.False(c.HasState)
	s.Equal(models.TierNone, c.DominantTier)
	s.Equal(TrendStable, c.Trend)
	s.Equal(EmpathyLight, c.EmpathyLevel)
	s.Equal(ToneCasualSupportive, c.ToneRecommendation)
	s.Equal(map[string]bool{FlagCasual: true}, c.Flags)
	s.Empty(c.DominantEmotion)
	s.Empty(c.Valence)
	s.Equal("nobody", c.UserID)
}

func (s *BuilderSuite) TestBuild_ShortTermJoy() {
	key := models.Key{UserID: "u1"}
	s.feed(key, 5, s.now.Add(-2*time.Minute), 20*time.Second, map[string]float64{
		"joy": 0.7, "sadness": 0.05, "anger": 0.05, "anxiety": 0.05, "calm": 0.1, "excitement": 0.05,
	})
	s.save(key, models.TierST, false, s.now)

	c, err := s.builder.Build(s.ctx, key, s.now)
	s.Require().NoError(err)
	s.True(c.HasState)
	s.Equal(models.TierST, c.DominantTier)
	s.Equal(models.Joy, c.DominantEmotion[models.HorizonST])
	s.InDelta(0.7, c.Valence[models.HorizonST], 1e-9)
	s.Equal(TrendStable, c.Trend)
	s.True(c.Flags[FlagCasual])
	s.Equal(EmpathyLight, c.EmpathyLevel)
	s.InDelta(1.0, c.Relevance, 1e-9)
	s.Equal(map[models.Tier]float64{models.TierST: 1}, c.StateDistribution)
}

func (s *BuilderSuite) TestBuild_DecliningMidTerm() {
	key := models.Key{UserID: "u1", TopicID: "work"}
	s.feed(key, 20, s.now.Add(-20*24*time.Hour), 12*time.Hour, map[string]float64{"calm": 0.8, "sadness": 0.2})
	s.feed(key, 5, s.now.Add(-time.Hour), time.Minute, map[string]float64{"sadness": 0.9, "calm": 0.1})
	s.save(key, models.TierMT, false, s.now)

	c, err := s.builder.Build(s.ctx, key, s.now)
	s.Require().NoError(err)
	s.Equal(TrendDeclining, c.Trend)
	s.Equal(models.Sadness, c.DominantEmotion[models.HorizonST])
	s.True(c.Flags[FlagAttentive])
	s.True(c.Flags[FlagAvoidToxicPositivity])
	s.Equal(EmpathyModerate, c.EmpathyLevel)
	s.Equal(ToneAttentiveValidating, c.ToneRecommendation)
}

func (s *BuilderSuite) TestBuild_LongTermNegative() {
	key := models.Key{UserID: "u1"}
	s.feed(key, 50, s.now.Add(-100*24*time.Hour), 48*time.Hour, map[string]float64{"anxiety": 0.8, "calm": 0.2})
	s.save(key, models.TierLT, false, s.now)

	c, err := s.builder.Build(s.ctx, key, s.now)
	s.Require().NoError(err)
	s.Equal(models.TierLT, c.DominantTier)
	s.True(c.Flags[FlagDeepEmpathy])
	s.True(c.Flags[FlagAcknowledgeOngoingStruggles])
	s.True(c.Flags[FlagAvoidToxicPositivity])
	s.False(c.Flags[FlagCasual])
	s.Equal(EmpathyHigh, c.EmpathyLevel)
	s.Equal(ToneDeeplyEmpathetic, c.ToneRecommendation)
}

func (s *BuilderSuite) TestBuild_DormantRecord() {
	key := models.Key{UserID: "u1"}
	s.save(key, models.TierLT, true, s.now.Add(-100*24*time.Hour))

	c, err := s.builder.Build(s.ctx, key, s.now)
	s.Require().NoError(err)
	s.True(c.HasState)
	s.True(c.Dormant)
	s.Equal(models.TierDormant, c.DominantTier)
	s.True(c.Flags[FlagDormantHistory])
	s.True(c.Flags[FlagCasual])
	s.Equal(EmpathyLight, c.EmpathyLevel)
}

func (s *BuilderSuite) TestBuild_StoreErrorReturned() {
	b := NewBuilder(failingRecords{}, &mockAggregates{}, nil, zerolog.Nop())
	_, err := b.Build(s.ctx, models.Key{UserID: "u1"}, s.now)
	s.Error(err)
}

func (s *BuilderSuite) TestBuildUser_MergesTopics() {
	work := models.Key{UserID: "u1", TopicID: "work"}
	home := models.Key{UserID: "u1", TopicID: "home"}
	old := models.Key{UserID: "u1", TopicID: "school"}
	s.feed(work, 20, s.now.Add(-10*24*time.Hour), 12*time.Hour, map[string]float64{"anger": 0.7, "calm": 0.3})
	s.save(work, models.TierMT, false, s.now)
	s.save(home, models.TierST, false, s.now.Add(-3*24*time.Hour))
	s.save(old, models.TierLT, true, s.now.Add(-200*24*time.Hour))

	c, err := s.builder.BuildUser(s.ctx, "u1", s.now)
	s.Require().NoError(err)
	s.Equal("u1", c.UserID)
	s.Empty(c.TopicID)
	s.Equal([]string{"home", "school", "work"}, c.Topics)
	s.Equal(models.TierMT, c.DominantTier)
	s.False(c.Dormant)
	s.True(c.Flags[FlagDormantHistory])
	s.True(c.Flags[FlagAttentive])
	s.Equal(models.Anger, c.DominantEmotion[models.HorizonMT])

	var sum float64
	for _, share := range c.StateDistribution {
		sum += share
	}
	s.InDelta(1.0, sum, 1e-9)
	s.Greater(c.StateDistribution[models.TierMT], c.StateDistribution[models.TierST])
	s.NotContains(c.StateDistribution, models.TierLT)
	s.Equal(EmpathyModerate, c.EmpathyLevel)
}

func (s *BuilderSuite) TestBuildUser_UnknownUserIsNeutral() {
	c, err := s.builder.BuildUser(s.ctx, "ghost", s.now)
	s.Require().NoError(err)
	s.False(c.HasState)
	s.Equal(EmpathyLight, c.EmpathyLevel)
}

func (s *BuilderSuite) TestBuildUser_AllDormant() {
	s.save(models.Key{UserID: "u1", TopicID: "a"}, models.TierMT, true, s.now.Add(-60*24*time.Hour))
	c, err := s.builder.BuildUser(s.ctx, "u1", s.now)
	s.Require().NoError(err)
	s.True(c.Dormant)
	s.Equal(models.TierDormant, c.DominantTier)
	s.True(c.Flags[FlagDormantHistory])
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name    string
		valence map[models.Horizon]float64
		want    Trend
	}{
		{"no data", map[models.Horizon]float64{}, TrendStable},
		{"short only", map[models.Horizon]float64{models.HorizonST: 0.9}, TrendStable},
		{"improving vs mid", map[models.Horizon]float64{models.HorizonST: 0.5, models.HorizonMT: 0.2, models.HorizonLT: 0.9}, TrendImproving},
		{"declining vs long", map[models.Horizon]float64{models.HorizonST: -0.5, models.HorizonLT: 0}, TrendDeclining},
		{"within band", map[models.Horizon]float64{models.HorizonST: 0.25, models.HorizonMT: 0.2}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trend(tt.valence); got != tt.want {
				t.Errorf("trend() = %v, want %v", got, tt.want)
			}
		})
	}
}
