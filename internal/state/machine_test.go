package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/emostate/pkg/models"
)

type MachineSuite struct {
	suite.Suite
	m   *Machine
	now time.Time
	seq int
}

func (s *MachineSuite) SetupTest() {
	s.m = NewMachine(DefaultConfig())
	s.m.newID = func() string {
		s.seq++
		return fmt.Sprintf("t%d", s.seq)
	}
	s.now = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) input(id string, tier models.Tier, score float64, d models.Distribution) Input {
	return Input{
		Event: models.SignalEvent{
			ID:           id,
			UserID:       "u1",
			TopicID:      "work",
			Distribution: d,
			Confidence:   0.9,
		},
		Tier:  tier,
		Score: score,
	}
}

func sad() models.Distribution {
	return models.Distribution{models.Sadness: 0.7, models.Anxiety: 0.2, models.Calm: 0.1}
}

func joy() models.Distribution {
	return models.Distribution{models.Joy: 0.7, models.Excitement: 0.2, models.Calm: 0.1}
}

func day(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// =============================================================================
// Creation and escalation
// =============================================================================

func (s *MachineSuite) TestApply_NilRecordCreatesInitial() {
	out := s.m.Apply(nil, s.input("e1", models.TierST, 6, joy()), s.now)

	s.Require().Len(out.Transitions, 1)
	tr := out.Transitions[0]
	s.Equal(models.TierNone, tr.From)
	s.Equal(models.TierST, tr.To)
	s.Equal(models.ReasonInitial, tr.Reason)
	s.Equal("e1", tr.SignalID)
	s.Equal("t1", tr.ID)

	rec := out.Record
	s.Equal(models.TierST, rec.Tier)
	s.Equal(s.now, rec.EnteredAt)
	s.Equal(s.now, rec.LastUpdatedAt)
	s.Equal(models.Joy, rec.DominantEmotion)
	s.Equal(1, rec.EscalationCount)
	s.Equal(models.DecayExponential, rec.DecayParams.Model)
	s.Equal(day(14), rec.DecayParams.InactivityWindow)
}

func (s *MachineSuite) TestApply_JoyBurstProducesNoFurtherTransitions() {
	out := s.m.Apply(nil, s.input("e0", models.TierST, 5, joy()), s.now)
	rec := out.Record
	for i := 1; i < 5; i++ {
		out = s.m.Apply(rec, s.input(fmt.Sprintf("e%d", i), models.TierST, 6, joy()), s.now.Add(time.Duration(i)*30*time.Second))
		s.Empty(out.Transitions)
		rec = out.Record
	}
	s.Equal(models.TierST, rec.Tier)
	s.Equal(1, rec.EscalationCount)
	s.Equal(s.now.Add(2*time.Minute), rec.LastUpdatedAt)
}

func (s *MachineSuite) TestApply_EscalationOnHigherClassification() {
	rec := s.m.Apply(nil, s.input("e1", models.TierST, 6, sad()), s.now).Record

	out := s.m.Apply(rec, s.input("e2", models.TierMT, 20, sad()), s.now.Add(time.Hour))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonEscalation, out.Transitions[0].Reason)
	s.Equal(models.TierMT, out.Record.Tier)
	s.Equal(0, out.Record.EscalationCount)
	s.Empty(out.Record.EscalationMarks)
	s.Equal(6.0, out.Transitions[0].ScoreBefore)
	s.Equal(20.0, out.Transitions[0].ScoreAfter)
	s.Equal(models.DecaySigmoid, out.Record.DecayParams.Model)
}

func (s *MachineSuite) TestApply_NoDowngrade() {
	rec := s.m.Apply(nil, s.input("e1", models.TierLT, 80, sad()), s.now).Record

	out := s.m.Apply(rec, s.input("e2", models.TierST, 3, joy()), s.now.Add(day(1)))

	s.Empty(out.Transitions)
	s.Equal(models.TierLT, out.Record.Tier)
	s.Equal(s.now, out.Record.EnteredAt)
	s.Equal(s.now.Add(day(1)), out.Record.LastUpdatedAt)
	s.Equal(3.0, out.Record.LastScore)
}

func (s *MachineSuite) TestApply_DoesNotMutateInput() {
	rec := s.m.Apply(nil, s.input("e1", models.TierST, 6, sad()), s.now).Record
	before := *rec.Clone()

	s.m.Apply(rec, s.input("e2", models.TierMT, 20, sad()), s.now.Add(day(1)))

	s.Equal(before.Tier, rec.Tier)
	s.Equal(before.LastUpdatedAt, rec.LastUpdatedAt)
	s.Equal(before.EscalationMarks, rec.EscalationMarks)
}

// =============================================================================
// Compounding
// =============================================================================

func (s *MachineSuite) TestCompounding_ThreeSadDaysPromoteToMT() {
	out := s.m.Apply(nil, s.input("d1", models.TierST, 4, sad()), s.now)
	rec := out.Record

	out = s.m.Apply(rec, s.input("d3", models.TierST, 5, sad()), s.now.Add(day(2)))
	s.Empty(out.Transitions)
	s.Equal(2, out.Record.EscalationCount)
	rec = out.Record

	out = s.m.Apply(rec, s.input("d6", models.TierST, 7, sad()), s.now.Add(day(5)))
	s.Require().Len(out.Transitions, 1)
	tr := out.Transitions[0]
	s.Equal(models.TierST, tr.From)
	s.Equal(models.TierMT, tr.To)
	s.Equal(models.ReasonCompounding, tr.Reason)
	s.Equal("d6", tr.SignalID)
	s.Equal(models.TierMT, out.Record.Tier)
	s.Equal(0, out.Record.EscalationCount)
	s.Empty(out.Record.EscalationMarks)

	// Already MT: further ST signals never fire compounding again.
	out = s.m.Apply(out.Record, s.input("d7", models.TierST, 4, sad()), s.now.Add(day(6)))
	s.Empty(out.Transitions)
}

func (s *MachineSuite) TestCompounding_MarksOutsideWindowDoNotCount() {
	rec := s.m.Apply(nil, s.input("a", models.TierST, 4, sad()), s.now).Record
	rec = s.m.Apply(rec, s.input("b", models.TierST, 4, sad()), s.now.Add(day(2))).Record

	out := s.m.Apply(rec, s.input("c", models.TierST, 4, sad()), s.now.Add(day(8)))

	s.Empty(out.Transitions)
	s.Equal(2, out.Record.EscalationCount)
	s.Len(out.Record.EscalationMarks, 2)
}

func (s *MachineSuite) TestCompounding_DifferentEmotionsCombine() {
	anxious := models.Distribution{models.Anxiety: 0.6, models.Sadness: 0.3, models.Calm: 0.1}
	angry := models.Distribution{models.Anger: 0.7, models.Sadness: 0.2, models.Calm: 0.1}

	rec := s.m.Apply(nil, s.input("a", models.TierST, 4, sad()), s.now).Record
	out := s.m.Apply(rec, s.input("b", models.TierST, 4, anxious), s.now.Add(day(2)))
	s.Empty(out.Transitions)
	s.Equal(2, out.Record.EscalationCount)

	out = s.m.Apply(out.Record, s.input("c", models.TierST, 4, angry), s.now.Add(day(5)))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonCompounding, out.Transitions[0].Reason)
	s.Equal(models.TierMT, out.Record.Tier)
	s.Equal(0, out.Record.EscalationCount)
}

func (s *MachineSuite) TestCompounding_SameEmotionOnlyWhenConfigured() {
	cfg := DefaultConfig()
	cfg.CompoundingSameEmotion = true
	s.m.UpdateConfig(cfg)

	rec := s.m.Apply(nil, s.input("a", models.TierST, 4, sad()), s.now).Record
	rec = s.m.Apply(rec, s.input("b", models.TierST, 4, joy()), s.now.Add(day(1))).Record
	out := s.m.Apply(rec, s.input("c", models.TierST, 4, sad()), s.now.Add(day(2)))

	s.Empty(out.Transitions)
	s.Equal(models.TierST, out.Record.Tier)
	s.Equal(2, out.Record.EscalationCount)
}

func (s *MachineSuite) TestCompounding_BurstWithinGapIsOneEpisode() {
	rec := s.m.Apply(nil, s.input("a", models.TierST, 4, sad()), s.now).Record
	rec = s.m.Apply(rec, s.input("b", models.TierST, 4, joy()), s.now.Add(time.Hour)).Record
	out := s.m.Apply(rec, s.input("c", models.TierST, 4, sad()), s.now.Add(2*time.Hour))

	s.Empty(out.Transitions)
	s.Equal(1, out.Record.EscalationCount)
}

func (s *MachineSuite) TestCompounding_ZeroGapCountsEveryEvent() {
	cfg := DefaultConfig()
	cfg.CompoundingMinGap = 0
	s.m.UpdateConfig(cfg)

	rec := s.m.Apply(nil, s.input("a", models.TierST, 4, sad()), s.now).Record
	rec = s.m.Apply(rec, s.input("b", models.TierST, 4, sad()), s.now.Add(time.Minute)).Record
	out := s.m.Apply(rec, s.input("c", models.TierST, 4, sad()), s.now.Add(2*time.Minute))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.TierMT, out.Record.Tier)
}

// =============================================================================
// Mid-term to long-term promotion
// =============================================================================

func (s *MachineSuite) TestPromotion_PersistentMidTermReachesLT() {
	rec := s.m.Apply(nil, s.input("m0", models.TierMT, 30, sad()), s.now).Record
	s.Zero(rec.EscalationCount)

	for i, d := range []int{5, 10, 15, 20, 25} {
		out := s.m.Apply(rec, s.input(fmt.Sprintf("m%d", i+1), models.TierMT, 40, sad()), s.now.Add(day(d)))
		s.Empty(out.Transitions, "day %d is too early", d)
		rec = out.Record
	}
	s.Equal(5, rec.EscalationCount)

	out := s.m.Apply(rec, s.input("m6", models.TierMT, 45, sad()), s.now.Add(day(61)))

	s.Require().Len(out.Transitions, 1)
	tr := out.Transitions[0]
	s.Equal(models.TierMT, tr.From)
	s.Equal(models.TierLT, tr.To)
	s.Equal(models.ReasonEscalation, tr.Reason)
	s.Equal("m6", tr.SignalID)
	s.Equal(models.TierLT, out.Record.Tier)
	s.Equal(s.now.Add(day(61)), out.Record.EnteredAt)
	s.Equal(models.DecayAsymptotic, out.Record.DecayParams.Model)
	s.Zero(out.Record.EscalationCount)
	s.Empty(out.Record.EscalationMarks)
}

func (s *MachineSuite) TestPromotion_NeedsEnoughMentions() {
	rec := s.m.Apply(nil, s.input("m0", models.TierMT, 30, sad()), s.now).Record
	rec = s.m.Apply(rec, s.input("m1", models.TierMT, 30, sad()), s.now.Add(day(30))).Record

	out := s.m.Apply(rec, s.input("m2", models.TierMT, 30, sad()), s.now.Add(day(70)))

	s.Empty(out.Transitions)
	s.Equal(models.TierMT, out.Record.Tier)
	s.Equal(2, out.Record.EscalationCount)
}

func (s *MachineSuite) TestPromotion_BurstCountsOnce() {
	rec := s.m.Apply(nil, s.input("m0", models.TierMT, 30, sad()), s.now).Record
	for i := 1; i <= 6; i++ {
		rec = s.m.Apply(rec, s.input(fmt.Sprintf("m%d", i), models.TierMT, 30, sad()), s.now.Add(day(70)+time.Duration(i)*time.Minute)).Record
	}

	s.Equal(models.TierMT, rec.Tier)
	s.Equal(1, rec.EscalationCount)
}

func (s *MachineSuite) TestPromotion_ShortTermSignalsDoNotCount() {
	rec := s.m.Apply(nil, s.input("m0", models.TierMT, 30, sad()), s.now).Record
	for i, d := range []int{10, 20, 30, 40, 50, 65} {
		out := s.m.Apply(rec, s.input(fmt.Sprintf("s%d", i), models.TierST, 8, sad()), s.now.Add(day(d)))
		s.Empty(out.Transitions)
		rec = out.Record
	}

	s.Equal(models.TierMT, rec.Tier)
	s.Zero(rec.EscalationCount)
}

func (s *MachineSuite) TestPromotion_DisabledWithZeroMentions() {
	cfg := DefaultConfig()
	cfg.PromotionMentions = 0
	s.m.UpdateConfig(cfg)

	rec := s.m.Apply(nil, s.input("m0", models.TierMT, 30, sad()), s.now).Record
	for i, d := range []int{5, 10, 15, 20, 25, 61, 90} {
		rec = s.m.Apply(rec, s.input(fmt.Sprintf("m%d", i+1), models.TierMT, 40, sad()), s.now.Add(day(d))).Record
	}

	s.Equal(models.TierMT, rec.Tier)
}

// =============================================================================
// Decay, resurgence, reactivation
// =============================================================================

func (s *MachineSuite) longTermRecord() *models.StateRecord {
	in := s.input("seed", models.TierLT, 80, sad())
	in.Aggregates[models.HorizonLT] = models.WindowAggregate{
		Horizon:      models.HorizonLT,
		Distribution: sad(),
		Dominant:     models.Sadness,
		Count:        50,
		Capacity:     50,
	}
	return s.m.Apply(nil, in, s.now).Record
}

func (s *MachineSuite) TestIsInactive() {
	rec := s.longTermRecord()
	s.False(s.m.IsInactive(rec, s.now.Add(day(90))))
	s.True(s.m.IsInactive(rec, s.now.Add(day(91))))

	dormant := s.m.MarkDormant(rec, models.Distribution{}, s.now.Add(day(91))).Record
	s.False(s.m.IsInactive(dormant, s.now.Add(day(500))))
	s.False(s.m.IsInactive(nil, s.now))
}

func (s *MachineSuite) TestMarkDormant() {
	rec := s.longTermRecord()
	at := s.now.Add(day(91))

	out := s.m.MarkDormant(rec, sad(), at)

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.TierLT, out.Transitions[0].From)
	s.Equal(models.TierDormant, out.Transitions[0].To)
	s.Equal(models.ReasonDecay, out.Transitions[0].Reason)
	s.True(out.Record.Dormant)
	s.Equal(models.TierLT, out.Record.Tier)
	s.Equal(models.TierDormant, out.Record.State())
	s.Equal(at, out.Record.DormantSince)
	s.InDelta(1.0, out.Record.DormantProfile.Sum(), 1e-9)

	again := s.m.MarkDormant(out.Record, sad(), at.Add(time.Hour))
	s.Empty(again.Transitions)
}

func (s *MachineSuite) TestMarkDormant_ZeroProfileUsesDominantEmotion() {
	out := s.m.MarkDormant(s.longTermRecord(), models.Distribution{}, s.now.Add(day(91)))
	s.Equal(1.0, out.Record.DormantProfile[models.Sadness])
}

func (s *MachineSuite) TestResurgence_MatchingEmotionRestoresLT() {
	rec := s.longTermRecord()
	rec = s.m.MarkDormant(rec, sad(), s.now.Add(day(91))).Record
	at := s.now.Add(day(120))

	out := s.m.Apply(rec, s.input("back", models.TierST, 4, sad()), at)

	s.Require().Len(out.Transitions, 1)
	tr := out.Transitions[0]
	s.Equal(models.TierDormant, tr.From)
	s.Equal(models.TierLT, tr.To)
	s.Equal(models.ReasonResurgence, tr.Reason)
	s.Equal(s.now, out.Record.EnteredAt)
	s.Equal(at, out.Record.LastUpdatedAt)
	s.Equal(at, out.Record.LastResurgenceAt)
	s.False(out.Record.Dormant)
	s.True(out.Record.DormantSince.IsZero())
}

func (s *MachineSuite) TestResurgence_DissimilarProfileReactivates() {
	rec := s.longTermRecord()
	rec = s.m.MarkDormant(rec, sad(), s.now.Add(day(91))).Record
	at := s.now.Add(day(120))

	// Sadness-dominant by a hair but far from the recorded profile.
	d := models.Distribution{models.Sadness: 0.26, models.Joy: 0.25, models.Calm: 0.25, models.Excitement: 0.24}
	out := s.m.Apply(rec, s.input("meh", models.TierST, 2, d), at)

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonReactivation, out.Transitions[0].Reason)
	s.Equal(models.TierST, out.Record.Tier)
	s.Equal(at, out.Record.EnteredAt)
}

func (s *MachineSuite) TestResurgence_DifferentEmotionReactivates() {
	rec := s.longTermRecord()
	rec = s.m.MarkDormant(rec, sad(), s.now.Add(day(91))).Record

	out := s.m.Apply(rec, s.input("happy", models.TierST, 2, joy()), s.now.Add(day(120)))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonReactivation, out.Transitions[0].Reason)
	s.Equal(models.TierST, out.Transitions[0].To)
	s.Equal(1, out.Record.EscalationCount)
}

func (s *MachineSuite) TestResurgence_AnniversaryTriggersAnyEmotion() {
	rec := s.longTermRecord()
	rec = s.m.MarkDormant(rec, sad(), s.now.Add(day(91))).Record

	out := s.m.Apply(rec, s.input("anniv", models.TierST, 2, joy()), s.now.AddDate(1, 0, 3))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonResurgence, out.Transitions[0].Reason)
	s.Equal(s.now, out.Record.EnteredAt)
}

func (s *MachineSuite) TestResurgence_OnlyFromLongTerm() {
	rec := s.m.Apply(nil, s.input("e1", models.TierMT, 30, sad()), s.now).Record
	rec = s.m.MarkDormant(rec, sad(), s.now.Add(day(46))).Record

	out := s.m.Apply(rec, s.input("e2", models.TierMT, 30, sad()), s.now.Add(day(60)))

	s.Require().Len(out.Transitions, 1)
	s.Equal(models.ReasonReactivation, out.Transitions[0].Reason)
	s.Equal(models.TierMT, out.Record.Tier)
}

func TestOnAnniversary(t *testing.T) {
	origin := time.Date(2023, 5, 10, 0, 0, 0, 0, time.UTC)
	tol := 7 * 24 * time.Hour
	cases := []struct {
		now  time.Time
		want bool
	}{
		{origin.AddDate(0, 0, 3), false},
		{origin.AddDate(1, 0, -5), true},
		{origin.AddDate(1, 0, 6), true},
		{origin.AddDate(1, 0, 9), false},
		{origin.AddDate(2, 0, 0), true},
		{origin.AddDate(1, 6, 0), false},
		{origin.AddDate(-1, 0, 0), false},
	}
	for _, c := range cases {
		if got := onAnniversary(origin, c.now, tol); got != c.want {
			t.Errorf("onAnniversary(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}
