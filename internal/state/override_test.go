package state

import (
	"errors"
	"time"

	"github.com/thebtf/emostate/pkg/models"
)

func (s *MachineSuite) TestOverride_CreatesRecord() {
	key := models.Key{UserID: "u1", TopicID: "work"}
	out, err := s.m.Override(nil, key, models.TierMT, "clinician note", s.now)
	s.Require().NoError(err)
	s.Require().Len(out.Transitions, 1)
	s.Equal(models.TierNone, out.Transitions[0].From)
	s.Equal(models.ReasonManual, out.Transitions[0].Reason)
	s.Equal("clinician note", out.Transitions[0].Note)
	s.Equal(key, out.Record.Key())
}

func (s *MachineSuite) TestOverride_ToDormantAndBack() {
	rec := s.longTermRecord()
	key := rec.Key()

	out, err := s.m.Override(rec, key, models.TierDormant, "", s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.True(out.Record.Dormant)
	s.Equal(models.TierDormant, out.Transitions[0].To)

	out, err = s.m.Override(out.Record, key, models.TierST, "", s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.False(out.Record.Dormant)
	s.Equal(models.TierST, out.Record.Tier)
	s.Equal(models.TierDormant, out.Transitions[0].From)
}

func (s *MachineSuite) TestOverride_SameStateIsNoop() {
	rec := s.longTermRecord()
	out, err := s.m.Override(rec, rec.Key(), models.TierLT, "", s.now)
	s.Require().NoError(err)
	s.Empty(out.Transitions)
}

func (s *MachineSuite) TestOverride_Invalid() {
	_, err := s.m.Override(nil, models.Key{UserID: "u"}, models.TierDormant, "", s.now)
	s.True(errors.Is(err, ErrInvalidOverride))

	_, err = s.m.Override(nil, models.Key{UserID: "u"}, models.TierNone, "", s.now)
	s.True(errors.Is(err, ErrInvalidOverride))
}
