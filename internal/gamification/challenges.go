package gamification

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

type ChallengeUpdate struct {
	Challenge     models.Challenge `json:"challenge"`
	Progress      int              `json:"progress"`
	Completed     bool             `json:"completed"`
	JustCompleted bool             `json:"just_completed"`
	BonusAwarded  int64            `json:"bonus_awarded,omitempty"`
}

// UpdateChallengeProgress advances every open challenge tracking event.
// Challenges the user already completed are left alone; the update that
// first reaches a target awards the challenge bonus.
func (s *Service) UpdateChallengeProgress(ctx context.Context, userID uuid.UUID, event Event) ([]ChallengeUpdate, error) {
	return s.advanceChallenges(ctx, userID, event, "")
}

// advanceChallenges counts event toward each open challenge at most once per
// non-empty key. A completed challenge whose bonus an earlier attempt failed
// to credit gets the bonus retried.
func (s *Service) advanceChallenges(ctx context.Context, userID uuid.UUID, event Event, key string) ([]ChallengeUpdate, error) {
	value, err := s.events.Value(event)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	open, err := s.store.ListActiveChallenges(ctx, string(event), now)
	if err != nil {
		return nil, persistErr("load challenges", err)
	}

	updates := make([]ChallengeUpdate, 0, len(open))
	var errs []error
	for _, c := range open {
		res, err := s.store.IncrementChallengeProgress(ctx, ChallengeIncrement{
			UserID:         userID,
			ChallengeID:    c.ID,
			By:             value.ChallengeWeight,
			Target:         c.Target,
			At:             now,
			IdempotencyKey: key,
		})
		if err != nil {
			errs = append(errs, persistErr(fmt.Sprintf("challenge %s", c.ID), err))
			continue
		}

		p := res.Progress
		if !res.Applied {
			if p.Completed && !p.BonusAwarded && c.BonusXP > 0 {
				if err := s.payChallengeBonus(ctx, userID, c); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}

		u := ChallengeUpdate{
			Challenge:     c,
			Progress:      p.Progress,
			Completed:     p.Completed,
			JustCompleted: res.JustCompleted,
		}
		if res.JustCompleted {
			s.metrics.challengeCompleted()
			s.announceChallenge(ctx, userID, c)
			if err := s.payChallengeBonus(ctx, userID, c); err != nil {
				errs = append(errs, err)
			} else {
				u.BonusAwarded = c.BonusXP
			}
		}
		updates = append(updates, u)
	}
	return updates, errors.Join(errs...)
}

func (s *Service) announceChallenge(ctx context.Context, userID uuid.UUID, c models.Challenge) {
	s.logger.Info("challenge completed",
		zap.String("user_id", userID.String()), zap.String("challenge_id", c.ID.String()), zap.Int64("bonus_xp", c.BonusXP))

	s.notifier.Notify(ctx, models.Notification{
		UserID:  userID,
		Kind:    models.NotificationChallengeCompleted,
		Subject: fmt.Sprintf("Challenge complete: %s", c.Title),
		Facts: map[string]string{
			"challenge": c.Title,
			"bonus_xp":  strconv.FormatInt(c.BonusXP, 10),
		},
	})
}

// payChallengeBonus credits the bonus under a per user and challenge key, so
// repeating it after a partial failure never pays twice.
func (s *Service) payChallengeBonus(ctx context.Context, userID uuid.UUID, c models.Challenge) error {
	if c.BonusXP <= 0 {
		return nil
	}
	_, err := s.AwardBonus(ctx, userID, EventChallengeCompleted, c.BonusXP, Reference{
		ID:             c.ID.String(),
		Description:    "Challenge completed: " + c.Title,
		IdempotencyKey: fmt.Sprintf("challenge:%s:%s", c.ID, userID),
	})
	if err != nil && !errors.Is(err, ErrAlreadyApplied) {
		return fmt.Errorf("challenge %s bonus: %w", c.ID, err)
	}
	if err := s.store.MarkChallengeBonusAwarded(ctx, userID, c.ID); err != nil {
		return persistErr(fmt.Sprintf("mark challenge %s bonus", c.ID), err)
	}
	return nil
}
