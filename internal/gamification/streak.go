package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

type StreakOutcome string

const (
	StreakUnchanged StreakOutcome = "unchanged"
	StreakStarted   StreakOutcome = "started"
	StreakExtended  StreakOutcome = "extended"
	StreakPreserved StreakOutcome = "preserved"
	StreakReset     StreakOutcome = "reset"
)

type StreakResult struct {
	Current             int           `json:"current"`
	Longest             int           `json:"longest"`
	FreezesUsed         int           `json:"freezes_used"`
	FreezesLeft         int           `json:"freezes_left"`
	Outcome             StreakOutcome `json:"outcome"`
	AlreadyUpdatedToday bool          `json:"already_updated_today"`
	Reset               bool          `json:"reset"`
}

// utcDate truncates t to midnight of its UTC calendar day.
func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextStreak computes the streak transition for activity on today. It returns
// the record to store, how many freezes the transition consumes and what
// happened. A last activity on or after today leaves the record unchanged.
func NextStreak(rec models.StreakRecord, today time.Time) (models.StreakRecord, int, StreakOutcome) {
	today = utcDate(today)
	next := rec
	next.LastActivityDate = &today
	freezesUsed := 0
	var outcome StreakOutcome

	if rec.LastActivityDate == nil {
		next.CurrentStreak = 1
		outcome = StreakStarted
	} else {
		last := utcDate(*rec.LastActivityDate)
		gap := int(today.Sub(last).Hours() / 24)

		switch {
		case gap <= 0:
			return rec, 0, StreakUnchanged
		case gap == 1:
			next.CurrentStreak = rec.CurrentStreak + 1
			outcome = StreakExtended
		case gap-1 <= rec.StreakFreezes:
			// Each missed day is covered by one freeze.
			freezesUsed = gap - 1
			next.CurrentStreak = rec.CurrentStreak + 1
			next.StreakFreezes = rec.StreakFreezes - freezesUsed
			outcome = StreakPreserved
		default:
			next.CurrentStreak = 1
			outcome = StreakReset
		}
	}

	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next, freezesUsed, outcome
}

// UpdateStreak records qualifying activity for today. It is safe to call
// repeatedly and concurrently: the write is a compare-and-set on the last
// activity date, so only one caller per day moves the streak.
func (s *Service) UpdateStreak(ctx context.Context, userID uuid.UUID) (*StreakResult, error) {
	today := utcDate(s.now())

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, err := s.store.GetOrCreateStreak(ctx, userID)
		if err != nil {
			return nil, persistErr("load streak", err)
		}

		next, used, outcome := NextStreak(*rec, today)
		if outcome == StreakUnchanged {
			s.metrics.streak(outcome)
			return &StreakResult{
				Current:             rec.CurrentStreak,
				Longest:             rec.LongestStreak,
				FreezesLeft:         rec.StreakFreezes,
				Outcome:             outcome,
				AlreadyUpdatedToday: true,
			}, nil
		}

		next.UpdatedAt = s.now().UTC()
		ok, err := s.store.CompareAndSetStreak(ctx, &next, rec.LastActivityDate, used)
		if err != nil {
			return nil, persistErr("save streak", err)
		}
		if !ok {
			s.metrics.casConflict("streaks")
			continue
		}

		s.metrics.streak(outcome)
		if outcome == StreakPreserved {
			s.logger.Info("streak preserved by freeze",
				zap.String("user_id", userID.String()), zap.Int("freezes_used", used), zap.Int("streak", next.CurrentStreak))
		}
		return &StreakResult{
			Current:     next.CurrentStreak,
			Longest:     next.LongestStreak,
			FreezesUsed: used,
			FreezesLeft: next.StreakFreezes,
			Outcome:     outcome,
			Reset:       outcome == StreakReset,
		}, nil
	}
	return nil, fmt.Errorf("update streak for user %s: %w", userID, ErrConflict)
}
