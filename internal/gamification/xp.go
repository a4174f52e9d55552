package gamification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

// xpLevelUnit scales the square-root level curve: level n starts at
// xpLevelUnit * (n-1)^2 total XP.
const xpLevelUnit = 100

// maxCASAttempts bounds optimistic retries against a hot row.
const maxCASAttempts = 5

// XPForLevel returns the total XP at which a level starts.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return xpLevelUnit * n * n
}

// LevelForXP returns the level for a total XP amount. Level 1 starts at 0.
func LevelForXP(total int64) int {
	if total <= 0 {
		return 1
	}
	level := int(math.Sqrt(float64(total)/xpLevelUnit)) + 1
	// Correct float rounding at exact squares.
	for XPForLevel(level+1) <= total {
		level++
	}
	for level > 1 && XPForLevel(level) > total {
		level--
	}
	return level
}

// XPToNextLevel returns how much XP is missing to reach the next level.
func XPToNextLevel(total int64) int64 {
	return XPForLevel(LevelForXP(total)+1) - total
}

// bonusCoins converts bonus XP into coins at the same ratio lesson events use.
func bonusCoins(points int64) int64 {
	return points / 5
}

// Reference carries the optional context of an award.
type Reference struct {
	ID             string
	Description    string
	IdempotencyKey string
}

type AwardResult struct {
	UserXP        models.UserXP `json:"user_xp"`
	Event         Event         `json:"event"`
	Points        int64         `json:"points"`
	Coins         int64         `json:"coins"`
	PreviousLevel int           `json:"previous_level"`
	LeveledUp     bool          `json:"leveled_up"`
}

// AwardXP credits the fixed value of event to the user.
func (s *Service) AwardXP(ctx context.Context, userID uuid.UUID, event Event, ref Reference) (*AwardResult, error) {
	value, err := s.events.Value(event)
	if err != nil {
		return nil, err
	}
	if value.BonusOnly {
		return nil, fmt.Errorf("%w: %s is only awarded with a bonus amount", ErrInvalidEvent, event)
	}
	return s.applyAward(ctx, userID, event, value.Points, value.Coins, ref)
}

// AwardBonus credits an explicit amount for a bonus-only event such as a
// completed challenge.
func (s *Service) AwardBonus(ctx context.Context, userID uuid.UUID, event Event, points int64, ref Reference) (*AwardResult, error) {
	value, err := s.events.Value(event)
	if err != nil {
		return nil, err
	}
	if !value.BonusOnly {
		return nil, fmt.Errorf("%w: %s has a fixed value", ErrInvalidEvent, event)
	}
	if points < 0 {
		return nil, fmt.Errorf("%w: negative bonus %d", ErrInvalidEvent, points)
	}
	return s.applyAward(ctx, userID, event, points, bonusCoins(points), ref)
}

func (s *Service) applyAward(ctx context.Context, userID uuid.UUID, event Event, points, coins int64, ref Reference) (*AwardResult, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.store.GetOrCreateUserXP(ctx, userID)
		if err != nil {
			return nil, persistErr("load xp", err)
		}

		now := s.now().UTC()
		next := *cur
		next.TotalXP += points
		next.Coins += coins
		next.Level = LevelForXP(next.TotalXP)
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		entry := &models.XPLedgerEntry{
			UserID:         userID,
			Event:          string(event),
			Points:         points,
			Coins:          coins,
			ReferenceID:    ref.ID,
			Description:    ref.Description,
			IdempotencyKey: ref.IdempotencyKey,
			CreatedAt:      now,
		}

		ok, err := s.store.UpdateUserXP(ctx, &next, cur.Version, entry)
		if errors.Is(err, ErrAlreadyApplied) {
			return nil, fmt.Errorf("award %s: %w", event, ErrAlreadyApplied)
		}
		if err != nil {
			return nil, persistErr("save xp", err)
		}
		if !ok {
			s.metrics.casConflict("user_xp")
			continue
		}

		result := &AwardResult{
			UserXP:        next,
			Event:         event,
			Points:        points,
			Coins:         coins,
			PreviousLevel: cur.Level,
			LeveledUp:     next.Level > cur.Level,
		}
		s.metrics.xpAwarded(event, points)

		if result.LeveledUp {
			s.metrics.levelUp()
			s.logger.Info("level up",
				zap.String("user_id", userID.String()), zap.Int("level", next.Level), zap.Int("previous_level", cur.Level))
			s.notifier.Notify(ctx, models.Notification{
				UserID:  userID,
				Kind:    models.NotificationLevelUp,
				Subject: fmt.Sprintf("You reached level %d!", next.Level),
				Facts: map[string]string{
					"level":    strconv.Itoa(next.Level),
					"total_xp": strconv.FormatInt(next.TotalXP, 10),
				},
			})
		}
		return result, nil
	}
	return nil, fmt.Errorf("award %s for user %s: %w", event, userID, ErrConflict)
}
