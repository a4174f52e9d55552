package gamification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

// Stat keys a badge threshold can refer to. Every event name is also a
// valid stat and counts that event's ledger rows.
const (
	StatTotalXP             = "total_xp"
	StatLevel               = "level"
	StatCurrentStreak       = "current_streak"
	StatLongestStreak       = "longest_streak"
	StatChallengesCompleted = "challenges_completed"
)

// statValue resolves a stat key against a snapshot. ok is false for keys
// that name nothing.
func statValue(stats *models.UserStats, key string) (int64, bool) {
	switch key {
	case StatTotalXP:
		return stats.TotalXP, true
	case StatLevel:
		return int64(stats.Level), true
	case StatCurrentStreak:
		return int64(stats.CurrentStreak), true
	case StatLongestStreak:
		return int64(stats.LongestStreak), true
	case StatChallengesCompleted:
		return stats.ChallengesCompleted, true
	}
	if _, err := ParseEvent(key); err == nil {
		return stats.EventCounts[key], true
	}
	return 0, false
}

// QualifiedBadges returns the badges in catalog whose threshold the stats
// meet, preserving catalog order. Badges with unknown stat keys are
// returned separately so the caller can report them.
func QualifiedBadges(catalog []models.Badge, stats *models.UserStats) (qualified []models.Badge, unknown []string) {
	for _, b := range catalog {
		v, ok := statValue(stats, b.Stat)
		if !ok {
			unknown = append(unknown, b.Code)
			continue
		}
		if v >= b.Threshold {
			qualified = append(qualified, b)
		}
	}
	return qualified, unknown
}

// CheckBadges awards every badge the user currently qualifies for and has
// not yet earned. Only badges inserted by this call are returned, so a second
// run with unchanged stats returns nothing.
func (s *Service) CheckBadges(ctx context.Context, userID uuid.UUID) ([]models.Badge, error) {
	stats, err := s.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, persistErr("load stats", err)
	}
	catalog, err := s.store.ListBadges(ctx)
	if err != nil {
		return nil, persistErr("load badges", err)
	}

	qualified, unknown := QualifiedBadges(catalog, stats)
	if len(unknown) > 0 {
		s.logger.Warn("badges reference unknown stats", zap.Strings("badges", unknown))
	}

	awarded := []models.Badge{}
	now := s.now().UTC()
	for _, b := range qualified {
		inserted, err := s.store.InsertUserBadge(ctx, userID, b.ID, now)
		if err != nil {
			return awarded, persistErr(fmt.Sprintf("award badge %s", b.Code), err)
		}
		if !inserted {
			continue
		}
		awarded = append(awarded, b)
		s.metrics.badgeEarned(b.Rarity)
		s.logger.Info("badge earned",
			zap.String("user_id", userID.String()), zap.String("badge", b.Code), zap.String("rarity", b.Rarity))
		s.notifier.Notify(ctx, models.Notification{
			UserID:  userID,
			Kind:    models.NotificationBadgeEarned,
			Subject: fmt.Sprintf("New badge: %s", b.Name),
			Facts: map[string]string{
				"badge":       b.Name,
				"description": b.Description,
				"rarity":      b.Rarity,
			},
		})
	}
	return awarded, nil
}

// DefaultBadges is the seeded catalog. The SQL migration inserts the same
// rows; the in-memory store loads it directly.
func DefaultBadges() []models.Badge {
	defs := []struct {
		code, name, desc, rarity, stat string
		threshold                      int64
	}{
		{"first_login", "Hello There", "Log in for the first time", models.RarityCommon, string(EventDailyLogin), 1},
		{"first_lesson", "First Steps", "Complete your first lesson", models.RarityCommon, string(EventLessonCompleted), 1},
		{"first_teach", "Chalk Dust", "Deliver your first lesson", models.RarityCommon, string(EventLessonDelivered), 1},
		{"profile_complete", "All Set", "Complete your profile", models.RarityCommon, string(EventProfileCompleted), 1},
		{"curious_mind", "Curious Mind", "Ask the AI tutor 25 questions", models.RarityCommon, string(EventAIQuestionAsked), 25},
		{"streak_3", "Getting Started", "Reach a 3-day streak", models.RarityCommon, StatCurrentStreak, 3},
		{"streak_7", "Week Warrior", "Reach a 7-day streak", models.RarityRare, StatCurrentStreak, 7},
		{"streak_30", "Monthly Master", "Reach a 30-day streak", models.RarityEpic, StatLongestStreak, 30},
		{"streak_100", "Centurion", "Reach a 100-day streak", models.RarityLegendary, StatLongestStreak, 100},
		{"lessons_10", "Regular", "Complete 10 lessons", models.RarityRare, string(EventLessonCompleted), 10},
		{"lessons_50", "Scholar", "Complete 50 lessons", models.RarityEpic, string(EventLessonCompleted), 50},
		{"teacher_25", "Mentor", "Deliver 25 lessons", models.RarityRare, string(EventLessonDelivered), 25},
		{"teacher_100", "Master Tutor", "Deliver 100 lessons", models.RarityEpic, string(EventLessonDelivered), 100},
		{"reviewer_5", "Critic", "Write 5 reviews", models.RarityCommon, string(EventReviewWritten), 5},
		{"well_reviewed", "Well Reviewed", "Receive 10 reviews", models.RarityRare, string(EventReviewReceived), 10},
		{"level_5", "Rising Star", "Reach level 5", models.RarityRare, StatLevel, 5},
		{"level_10", "Powerhouse", "Reach level 10", models.RarityEpic, StatLevel, 10},
		{"xp_10000", "Legend", "Earn 10,000 total XP", models.RarityLegendary, StatTotalXP, 10000},
		{"challenger", "Challenger", "Complete 3 challenges", models.RarityRare, StatChallengesCompleted, 3},
	}

	out := make([]models.Badge, 0, len(defs))
	for i, d := range defs {
		out = append(out, models.Badge{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("tutorly-badge:"+d.code)),
			Code:        d.code,
			Name:        d.name,
			Description: d.desc,
			Rarity:      d.rarity,
			Stat:        d.stat,
			Threshold:   d.threshold,
			SortOrder:   (i + 1) * 10,
		})
	}
	return out
}
