package gamification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorly/backend/internal/gamification"
)

func TestRecordActivityRunsEveryStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	f.store.AddChallenge(weeklyChallenge(gamification.EventLessonCompleted, 1, 40))

	report, err := f.svc.RecordActivity(ctx, gamification.Activity{
		UserID:      userID,
		Event:       gamification.EventLessonCompleted,
		ReferenceID: "lesson-42",
	})
	require.NoError(t, err)
	assert.Equal(t, userID.String()+":lesson_completed:lesson-42", report.IdempotencyKey)
	require.NotNil(t, report.Award)
	assert.Equal(t, int64(50), report.Award.Points)
	require.NotNil(t, report.Streak)
	assert.Equal(t, 1, report.Streak.Current)
	assert.Equal(t, []string{"first_lesson"}, codes(report.NewBadges))
	require.Len(t, report.Challenges, 1)
	assert.True(t, report.Challenges[0].JustCompleted)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failed)

	assert.Equal(t, int64(90), f.xp(t, userID).TotalXP, "event plus challenge bonus")
}

func TestRecordActivityRetryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	activity := gamification.Activity{UserID: userID, Event: gamification.EventLessonCompleted, ReferenceID: "lesson-1"}

	_, err := f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)

	report, err := f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)
	assert.Equal(t, []string{gamification.StepXP, gamification.StepStreak, gamification.StepBadges, gamification.StepChallenges}, report.Skipped)
	assert.Nil(t, report.Award)
	assert.Equal(t, int64(50), f.xp(t, userID).TotalXP)
}

func TestRecordActivityDailyLoginOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	login := gamification.Activity{UserID: userID, Event: gamification.EventDailyLogin}

	_, err := f.svc.RecordActivity(ctx, login)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.RecordActivity(ctx, login)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.xp(t, userID).TotalXP)

	f.clock.Advance(24 * time.Hour)
	report, err := f.svc.RecordActivity(ctx, login)
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.xp(t, userID).TotalXP)
	assert.Equal(t, 2, report.Streak.Current)
}

func TestRecordActivityWithoutReferenceIsNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		report, err := f.svc.RecordActivity(ctx, gamification.Activity{UserID: userID, Event: gamification.EventAIQuestionAsked})
		require.NoError(t, err)
		assert.Nil(t, report.Streak, "ai questions do not count for streaks")
	}
	assert.Equal(t, int64(6), f.xp(t, userID).TotalXP)
}

func TestRecordActivityToleratesFailingStep(t *testing.T) {
	store := newFlakyStore()
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	userID := uuid.New()
	f.store.AddChallenge(weeklyChallenge(gamification.EventLessonCompleted, 3, 10))
	activity := gamification.Activity{UserID: userID, Event: gamification.EventLessonCompleted, IdempotencyKey: "evt-1"}

	store.setFailStats(true)
	report, err := f.svc.RecordActivity(ctx, activity)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, report.Failed, gamification.StepBadges)
	assert.NotNil(t, report.Award)
	require.Len(t, report.Challenges, 1, "later steps still run")

	store.setFailStats(false)
	report, err = f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)
	assert.Equal(t, []string{gamification.StepXP, gamification.StepStreak, gamification.StepChallenges}, report.Skipped)
	assert.Equal(t, []string{"first_lesson"}, codes(report.NewBadges))

	progress, err := f.store.ListChallengeProgress(ctx, userID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].Progress, "challenge progress is not double counted")
}

func TestRecordActivityAwardCommittedButNotMarked(t *testing.T) {
	store := newFlakyStore()
	store.failMarkFor[gamification.StepXP] = 1
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	userID := uuid.New()
	activity := gamification.Activity{UserID: userID, Event: gamification.EventReviewWritten, ReferenceID: "review-7"}

	_, err := f.svc.RecordActivity(ctx, activity)
	require.ErrorIs(t, err, gamification.ErrPersistence)

	report, err := f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)
	assert.Nil(t, report.Award, "the ledger key blocks a second credit")
	assert.Equal(t, int64(15), f.xp(t, userID).TotalXP)
}

func TestRecordActivityRejectsBonusOnlyEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordActivity(context.Background(), gamification.Activity{UserID: uuid.New(), Event: gamification.EventChallengeCompleted})
	assert.ErrorIs(t, err, gamification.ErrInvalidEvent)
}

func TestRecordActivityRetriesChallengeBonus(t *testing.T) {
	store := newFlakyStore()
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	userID := uuid.New()
	f.store.AddChallenge(weeklyChallenge(gamification.EventLessonCompleted, 1, 100))
	activity := gamification.Activity{UserID: userID, Event: gamification.EventLessonCompleted, ReferenceID: "lesson-1"}

	store.failChallengeBonus(1)
	report, err := f.svc.RecordActivity(ctx, activity)
	require.ErrorIs(t, err, errInjected)
	assert.Contains(t, report.Failed, gamification.StepChallenges)
	assert.Equal(t, int64(50), f.xp(t, userID).TotalXP)

	report, err = f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)
	assert.Contains(t, report.Skipped, gamification.StepXP)
	assert.NotContains(t, report.Skipped, gamification.StepChallenges)
	assert.Equal(t, int64(150), f.xp(t, userID).TotalXP, "bonus paid on retry")

	_, err = f.svc.RecordActivity(ctx, activity)
	require.NoError(t, err)
	assert.Equal(t, int64(150), f.xp(t, userID).TotalXP)

	progress, err := f.store.ListChallengeProgress(ctx, userID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].Progress)
	assert.True(t, progress[0].BonusAwarded)
}

func TestRecordActivityConcurrentSameKeyCountsChallengeOnce(t *testing.T) {
	store := newBarrierStore(2)
	f := newFixtureWithStore(t, store)
	ctx := context.Background()
	userID := uuid.New()
	f.store.AddChallenge(weeklyChallenge(gamification.EventDailyLogin, 5, 0))
	login := gamification.Activity{UserID: userID, Event: gamification.EventDailyLogin}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordActivity(ctx, login)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), f.xp(t, userID).TotalXP)
	progress, err := f.store.ListChallengeProgress(ctx, userID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 1, progress[0].Progress, "same key counts once")
}
