package gamification

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

const (
	StepXP         = "xp"
	StepStreak     = "streak"
	StepBadges     = "badges"
	StepChallenges = "challenges"
)

// Activity is one domain event reported by another part of the platform.
type Activity struct {
	UserID         uuid.UUID
	Event          Event
	ReferenceID    string
	Description    string
	IdempotencyKey string
}

type ActivityReport struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Award          *AwardResult      `json:"award,omitempty"`
	Streak         *StreakResult     `json:"streak,omitempty"`
	NewBadges      []models.Badge    `json:"new_badges"`
	Challenges     []ChallengeUpdate `json:"challenges"`
	Skipped        []string          `json:"skipped,omitempty"`
	Failed         map[string]string `json:"failed,omitempty"`
}

// ActivityKey returns the idempotency key for a. An explicit key wins; a
// daily login dedupes per UTC day; otherwise the reference id dedupes. With
// neither, every call gets a fresh key.
func (s *Service) ActivityKey(a Activity) string {
	switch {
	case a.IdempotencyKey != "":
		return a.IdempotencyKey
	case a.Event == EventDailyLogin:
		return fmt.Sprintf("%s:%s:%s", a.UserID, a.Event, utcDate(s.now()).Format("2006-01-02"))
	case a.ReferenceID != "":
		return fmt.Sprintf("%s:%s:%s", a.UserID, a.Event, a.ReferenceID)
	default:
		return uuid.NewString()
	}
}

// RecordActivity runs the XP, streak, badge and challenge steps for a. The
// steps are independent: a failure is logged and counted, later steps still
// run, and the joined error is returned alongside the partial report.
// Steps already completed under the same idempotency key are skipped.
func (s *Service) RecordActivity(ctx context.Context, a Activity) (*ActivityReport, error) {
	value, err := s.events.Value(a.Event)
	if err != nil {
		return nil, err
	}
	if value.BonusOnly {
		return nil, fmt.Errorf("%w: %s cannot be reported directly", ErrInvalidEvent, a.Event)
	}

	key := s.ActivityKey(a)
	report := &ActivityReport{
		IdempotencyKey: key,
		NewBadges:      []models.Badge{},
		Challenges:     []ChallengeUpdate{},
	}

	run, err := s.store.StartActivityRun(ctx, key, a.UserID, string(a.Event))
	if err != nil {
		return nil, persistErr("start activity run", err)
	}

	log := s.logger.With(
		zap.String("user_id", a.UserID.String()),
		zap.String("event", string(a.Event)),
		zap.String("idempotency_key", key),
	)

	steps := []struct {
		name string
		run  func() error
	}{
		{StepXP, func() error {
			res, err := s.AwardXP(ctx, a.UserID, a.Event, Reference{ID: a.ReferenceID, Description: a.Description, IdempotencyKey: key})
			if errors.Is(err, ErrAlreadyApplied) {
				// Committed by an earlier attempt that failed to mark the step.
				return nil
			}
			report.Award = res
			return err
		}},
		{StepStreak, func() error {
			if !value.CountsForStreak {
				return nil
			}
			res, err := s.UpdateStreak(ctx, a.UserID)
			report.Streak = res
			return err
		}},
		{StepBadges, func() error {
			res, err := s.CheckBadges(ctx, a.UserID)
			report.NewBadges = append(report.NewBadges, res...)
			return err
		}},
		{StepChallenges, func() error {
			res, err := s.advanceChallenges(ctx, a.UserID, a.Event, key)
			report.Challenges = append(report.Challenges, res...)
			return err
		}},
	}

	var errs []error
	for _, step := range steps {
		if slices.Contains(run.CompletedSteps, step.name) {
			report.Skipped = append(report.Skipped, step.name)
			continue
		}
		if err := step.run(); err != nil {
			s.metrics.stepFailed(step.name)
			log.Warn("activity step failed", zap.String("step", step.name), zap.Error(err))
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[step.name] = err.Error()
			errs = append(errs, fmt.Errorf("%s step: %w", step.name, err))
			continue
		}
		if err := s.store.MarkActivityStep(ctx, key, step.name); err != nil {
			log.Warn("mark activity step", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, persistErr("mark "+step.name, err))
		}
	}

	return report, errors.Join(errs...)
}
