package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/models"
)

// SeedDefaults loads the reward catalog the SQL migration seeds, plus a
// weekly lesson challenge starting at the week containing now.
func (s *Store) SeedDefaults(now time.Time) {
	stock := 100
	for _, r := range []models.Reward{
		{Name: "Streak Freeze", Description: "Protects your streak for one missed day", Kind: models.RewardKindStreakFreeze, Cost: 50},
		{Name: "Profile Frame", Description: "A golden frame for your profile picture", Kind: models.RewardKindItem, Cost: 150},
		{Name: "Free 15-minute Session", Description: "A short session with any tutor", Kind: models.RewardKindItem, Cost: 500, Stock: &stock},
	} {
		r.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tutorly-reward:"+r.Name))
		r.Active = true
		s.AddReward(r)
	}

	weekStart := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -int(now.UTC().Weekday()))
	s.AddChallenge(models.Challenge{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("tutorly-challenge:weekly-lessons:"+weekStart.Format("2006-01-02"))),
		Title:       "Weekly Learner",
		Description: "Complete 3 lessons this week",
		Event:       string(gamification.EventLessonCompleted),
		Target:      3,
		BonusXP:     100,
		StartsAt:    weekStart,
		EndsAt:      weekStart.AddDate(0, 0, 7),
		Active:      true,
	})
}
