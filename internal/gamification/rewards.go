package gamification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

// RedeemReward spends coins on a catalog reward. Stock and balance are
// checked up front so the common failures never touch the write path; the
// store repeats both checks as conditional updates inside one transaction.
func (s *Service) RedeemReward(ctx context.Context, userID, rewardID uuid.UUID) (*models.UserReward, error) {
	ur, err := s.redeem(ctx, userID, rewardID)
	s.metrics.redemption(redemptionOutcome(err))
	return ur, err
}

func (s *Service) redeem(ctx context.Context, userID, rewardID uuid.UUID) (*models.UserReward, error) {
	reward, err := s.store.GetReward(ctx, rewardID)
	if err != nil {
		return nil, persistErr("load reward", err)
	}
	if !reward.Active {
		return nil, fmt.Errorf("reward %s: %w", rewardID, ErrNotFound)
	}
	if reward.Stock != nil && *reward.Stock <= 0 {
		return nil, fmt.Errorf("reward %s: %w", rewardID, ErrOutOfStock)
	}

	var coins int64
	xp, err := s.store.GetUserXP(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, persistErr("load xp", err)
	default:
		coins = xp.Coins
	}
	if coins < reward.Cost {
		return nil, fmt.Errorf("reward costs %d, balance %d: %w", reward.Cost, coins, ErrInsufficientFunds)
	}

	if reward.Kind == models.RewardKindStreakFreeze {
		streak, err := s.store.GetStreak(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, persistErr("load streak", err)
		}
		if streak != nil && streak.StreakFreezes >= s.maxStreakFreezes {
			return nil, fmt.Errorf("holding %d freezes: %w", streak.StreakFreezes, ErrFreezeLimit)
		}
	}

	now := s.now().UTC()
	ur, err := s.store.RedeemReward(ctx, Redemption{
		ID:               uuid.New(),
		UserID:           userID,
		Reward:           *reward,
		RedeemedAt:       now,
		ExpiresAt:        now.Add(s.rewardExpiry),
		MaxStreakFreezes: s.maxStreakFreezes,
	})
	if err != nil {
		return nil, persistErr("redeem reward", err)
	}

	s.logger.Info("reward redeemed",
		zap.String("user_id", userID.String()), zap.String("reward_id", rewardID.String()), zap.Int64("cost", reward.Cost))
	return ur, nil
}

func redemptionOutcome(err error) string {
	switch {
	case err == nil:
		return "redeemed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrFreezeLimit):
		return "freeze_limit"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
