// Package dbtest holds a behavioral test suite shared by RecordStore
// implementations.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/pkg/models"
)

// RecordStoreSuite exercises a RecordStore. Embed it and set NewStore.
type RecordStoreSuite struct {
	suite.Suite
	// NewStore returns an empty store and a cleanup func.
	NewStore func() (db.RecordStore, func())

	store   db.RecordStore
	cleanup func()
	ctx     context.Context
	now     time.Time
}

func (s *RecordStoreSuite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.store, s.cleanup = s.NewStore()
	s.ctx = context.Background()
	s.now = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
}

func (s *RecordStoreSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func (s *RecordStoreSuite) record(user, topic string, tier models.Tier) *models.StateRecord {
	return &models.StateRecord{
		UserID:          user,
		TopicID:         topic,
		Tier:            tier,
		EnteredAt:       s.now,
		LastUpdatedAt:   s.now,
		DominantEmotion: models.Sadness,
		LastScore:       12.5,
		DecayParams: models.DecayParams{
			Model:            models.DecayModelFor(tier),
			InactivityWindow: 14 * 24 * time.Hour,
		},
		EscalationMarks: models.EscalationMarks{{At: s.now, Emotion: models.Sadness}},
		EscalationCount: 1,
		Trigger:         models.Trigger{SignalID: "sig-1", Reason: models.ReasonInitial},
	}
}

func (s *RecordStoreSuite) transition(rec *models.StateRecord, id string, from, to models.Tier, at time.Time) models.TransitionEvent {
	return models.TransitionEvent{
		ID:        id,
		UserID:    rec.UserID,
		TopicID:   rec.TopicID,
		From:      from,
		To:        to,
		Reason:    models.ReasonInitial,
		Timestamp: at,
		SignalID:  "sig-" + id,
	}
}

func (s *RecordStoreSuite) TestGetState_NotFound() {
	_, err := s.store.GetState(s.ctx, models.Key{UserID: "ghost"})
	s.True(errors.Is(err, db.ErrNotFound))
}

func (s *RecordStoreSuite) TestSaveState_CreateAndRead() {
	rec := s.record("u1", "work", models.TierST)
	tr := s.transition(rec, "t1", models.TierNone, models.TierST, s.now)

	s.Require().NoError(s.store.SaveState(s.ctx, rec, []models.TransitionEvent{tr}))
	s.Equal(int64(1), rec.Version)

	got, err := s.store.GetState(s.ctx, rec.Key())
	s.Require().NoError(err)
	s.Equal(models.TierST, got.Tier)
	s.Equal(int64(1), got.Version)
	s.Equal(models.Sadness, got.DominantEmotion)
	s.Equal(1, got.EscalationCount)
	s.Require().Len(got.EscalationMarks, 1)
	s.Equal(models.Sadness, got.EscalationMarks[0].Emotion)
	s.Equal(14*24*time.Hour, got.DecayParams.InactivityWindow)
	s.Equal(models.ReasonInitial, got.Trigger.Reason)
	s.WithinDuration(s.now, got.EnteredAt, time.Second)
	s.True(got.DormantSince.IsZero())

	history, err := s.store.ListTransitions(s.ctx, rec.Key(), 0)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("t1", history[0].ID)
	s.Equal(models.TierNone, history[0].From)
}

func (s *RecordStoreSuite) TestSaveState_UpdateBumpsVersion() {
	rec := s.record("u1", "", models.TierST)
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))

	rec.Tier = models.TierMT
	rec.Dormant = true
	rec.DormantSince = s.now.Add(time.Hour)
	rec.DormantProfile = models.Distribution{models.Sadness: 1}
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))
	s.Equal(int64(2), rec.Version)

	got, err := s.store.GetState(s.ctx, rec.Key())
	s.Require().NoError(err)
	s.Equal(models.TierMT, got.Tier)
	s.True(got.Dormant)
	s.Equal(models.TierDormant, got.State())
	s.WithinDuration(s.now.Add(time.Hour), got.DormantSince, time.Second)
	s.InDelta(1.0, got.DormantProfile[models.Sadness], 1e-9)
}

func (s *RecordStoreSuite) TestSaveState_StaleVersionConflicts() {
	rec := s.record("u1", "", models.TierST)
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))

	stale := rec.Clone()
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))

	tr := s.transition(stale, "lost", models.TierST, models.TierMT, s.now)
	err := s.store.SaveState(s.ctx, stale, []models.TransitionEvent{tr})
	s.True(errors.Is(err, db.ErrConflict), "got %v", err)

	history, err := s.store.ListTransitions(s.ctx, rec.Key(), 0)
	s.Require().NoError(err)
	s.Empty(history, "conflicting write must not append transitions")
}

func (s *RecordStoreSuite) TestSaveState_DuplicateCreateConflicts() {
	s.Require().NoError(s.store.SaveState(s.ctx, s.record("u1", "", models.TierST), nil))
	err := s.store.SaveState(s.ctx, s.record("u1", "", models.TierST), nil)
	s.True(errors.Is(err, db.ErrConflict), "got %v", err)
}

func (s *RecordStoreSuite) TestReturnedRecordsAreCopies() {
	rec := s.record("u1", "", models.TierST)
	s.Require().NoError(s.store.SaveState(s.ctx, rec, nil))

	got, err := s.store.GetState(s.ctx, rec.Key())
	s.Require().NoError(err)
	got.Tier = models.TierLT
	got.EscalationMarks[0].Emotion = models.Joy

	again, err := s.store.GetState(s.ctx, rec.Key())
	s.Require().NoError(err)
	s.Equal(models.TierST, again.Tier)
	s.Equal(models.Sadness, again.EscalationMarks[0].Emotion)
}

func (s *RecordStoreSuite) TestListQueries() {
	for i, topic := range []string{"a", "b", "c"} {
		tier := models.ActiveTiers[i]
		s.Require().NoError(s.store.SaveState(s.ctx, s.record("u1", topic, tier), nil))
	}
	dormant := s.record("u1", "d", models.TierLT)
	dormant.Dormant = true
	s.Require().NoError(s.store.SaveState(s.ctx, dormant, nil))
	s.Require().NoError(s.store.SaveState(s.ctx, s.record("u2", "", models.TierST), nil))

	keys, err := s.store.ListKeys(s.ctx)
	s.Require().NoError(err)
	s.Equal([]models.Key{
		{UserID: "u1", TopicID: "a"},
		{UserID: "u1", TopicID: "b"},
		{UserID: "u1", TopicID: "c"},
		{UserID: "u1", TopicID: "d"},
		{UserID: "u2", TopicID: ""},
	}, keys)

	byUser, err := s.store.ListByUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Len(byUser, 4)

	lt, err := s.store.ListByTier(s.ctx, "u1", models.TierLT)
	s.Require().NoError(err)
	s.Require().Len(lt, 1)
	s.Equal("c", lt[0].TopicID)

	dm, err := s.store.ListByTier(s.ctx, "u1", models.TierDormant)
	s.Require().NoError(err)
	s.Require().Len(dm, 1)
	s.Equal("d", dm[0].TopicID)

	counts, err := s.store.CountByState(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), counts[models.TierST])
	s.Equal(int64(1), counts[models.TierMT])
	s.Equal(int64(1), counts[models.TierLT])
	s.Equal(int64(1), counts[models.TierDormant])
}

func (s *RecordStoreSuite) TestListTransitions_LimitKeepsNewest() {
	rec := s.record("u1", "", models.TierST)
	var trs []models.TransitionEvent
	for i := 0; i < 5; i++ {
		trs = append(trs, s.transition(rec, fmt.Sprintf("t%d", i), models.TierST, models.TierMT, s.now.Add(time.Duration(i)*time.Minute)))
	}
	s.Require().NoError(s.store.SaveState(s.ctx, rec, trs))

	got, err := s.store.ListTransitions(s.ctx, rec.Key(), 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("t3", got[0].ID)
	s.Equal("t4", got[1].ID)

	none, err := s.store.ListTransitions(s.ctx, models.Key{UserID: "nobody"}, 10)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *RecordStoreSuite) TestPruneTransitions() {
	rec := s.record("u1", "", models.TierST)
	var trs []models.TransitionEvent
	for i := 0; i < 4; i++ {
		trs = append(trs, s.transition(rec, fmt.Sprintf("p%d", i), models.TierST, models.TierMT, s.now.Add(time.Duration(i)*24*time.Hour)))
	}
	s.Require().NoError(s.store.SaveState(s.ctx, rec, trs))

	removed, err := s.store.PruneTransitions(s.ctx, s.now.Add(2*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(2), removed)

	got, err := s.store.ListTransitions(s.ctx, rec.Key(), 0)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("p2", got[0].ID)

	_, err = s.store.GetState(s.ctx, rec.Key())
	s.NoError(err)

	removed, err = s.store.PruneTransitions(s.ctx, s.now.Add(2*24*time.Hour))
	s.Require().NoError(err)
	s.Zero(removed)
}
