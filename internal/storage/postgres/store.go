// Package postgres implements gamification.Store over database/sql and
// lib/pq. Every invariant that matters under concurrency is expressed as a
// conditional write so no read-modify-write spans a round trip.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/models"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ gamification.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// dateArg renders a calendar date for a DATE column so the session time
// zone never shifts it.
func dateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}

// ── XP ──────────────────────────────────────────────────

func (s *Store) GetUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error) {
	var u models.UserXP
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, total_xp, level, coins, version, updated_at
		 FROM user_xp WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.TotalXP, &u.Level, &u.Coins, &u.Version, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user xp %s: %w", userID, gamification.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user xp: %w", err)
	}
	return &u, nil
}

func (s *Store) GetOrCreateUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_xp (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user xp: %w", err)
	}
	return s.GetUserXP(ctx, userID)
}

func (s *Store) UpdateUserXP(ctx context.Context, next *models.UserXP, prevVersion int64, entry *models.XPLedgerEntry) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE user_xp SET
			    total_xp = $2, level = $3, coins = $4, version = $5, updated_at = $6
			 WHERE user_id = $1 AND version = $7`,
			next.UserID, next.TotalXP, next.Level, next.Coins, next.Version, next.UpdatedAt, prevVersion,
		)
		if err != nil {
			return fmt.Errorf("update user xp: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		if entry != nil {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO xp_ledger (user_id, event, points, coins, reference_id, description, idempotency_key, created_at)
				 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`,
				entry.UserID, entry.Event, entry.Points, entry.Coins,
				entry.ReferenceID, entry.Description, entry.IdempotencyKey, entry.CreatedAt,
			)
			if isUniqueViolation(err) {
				return gamification.ErrAlreadyApplied
			}
			if err != nil {
				return fmt.Errorf("insert xp ledger: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) ListXPLedger(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, event, points, coins, COALESCE(reference_id, ''), COALESCE(description, ''), created_at
		 FROM xp_ledger
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list xp ledger: %w", err)
	}
	defer rows.Close()

	out := []models.XPLedgerEntry{}
	for rows.Next() {
		var e models.XPLedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &e.Points, &e.Coins, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan xp ledger: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x.user_id, COALESCE(p.full_name, ''), x.total_xp, x.level,
		        ROW_NUMBER() OVER (ORDER BY x.total_xp DESC, x.user_id) AS rank
		 FROM user_xp x
		 LEFT JOIN profiles p ON p.id = x.user_id
		 ORDER BY x.total_xp DESC, x.user_id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}
	defer rows.Close()

	out := []models.LeaderboardEntry{}
	for rows.Next() {
		var e models.LeaderboardEntry
		var fullName string
		if err := rows.Scan(&e.UserID, &fullName, &e.TotalXP, &e.Level, &e.Rank); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		e.DisplayName = models.Profile{FullName: fullName}.DisplayName()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Streaks ─────────────────────────────────────────────

func (s *Store) GetStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error) {
	var r models.StreakRecord
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, current_streak, longest_streak, last_activity_date, streak_freezes, updated_at
		 FROM streaks WHERE user_id = $1`,
		userID,
	).Scan(&r.UserID, &r.CurrentStreak, &r.LongestStreak, &last, &r.StreakFreezes, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("streak %s: %w", userID, gamification.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get streak: %w", err)
	}
	if last.Valid {
		d := last.Time.UTC()
		r.LastActivityDate = &d
	}
	return &r, nil
}

func (s *Store) GetOrCreateStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streaks (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert streak: %w", err)
	}
	return s.GetStreak(ctx, userID)
}

func (s *Store) CompareAndSetStreak(ctx context.Context, next *models.StreakRecord, prevLastActivity *time.Time, freezesUsed int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE streaks SET
		    current_streak = $2,
		    longest_streak = $3,
		    last_activity_date = $4::date,
		    streak_freezes = streak_freezes - $5,
		    updated_at = $6
		 WHERE user_id = $1
		   AND last_activity_date IS NOT DISTINCT FROM $7::date
		   AND streak_freezes >= $5`,
		next.UserID, next.CurrentStreak, next.LongestStreak, dateArg(next.LastActivityDate),
		freezesUsed, next.UpdatedAt, dateArg(prevLastActivity),
	)
	if err != nil {
		return false, fmt.Errorf("update streak: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update streak: %w", err)
	}
	return n == 1, nil
}

// ── Badges ──────────────────────────────────────────────

func (s *Store) ListBadges(ctx context.Context) ([]models.Badge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, description, rarity, stat, threshold, sort_order
		 FROM badges
		 ORDER BY sort_order, code`,
	)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	defer rows.Close()

	out := []models.Badge{}
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Description, &b.Rarity, &b.Stat, &b.Threshold, &b.SortOrder); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListUserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, badge_id, earned_at FROM user_badges
		 WHERE user_id = $1
		 ORDER BY earned_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	out := []models.UserBadge{}
	for rows.Next() {
		var ub models.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan user badge: %w", err)
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

func (s *Store) InsertUserBadge(ctx context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_badges (user_id, badge_id, earned_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, badge_id) DO NOTHING`,
		userID, badgeID, earnedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	stats := &models.UserStats{EventCounts: make(map[string]int64)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(x.total_xp, 0), COALESCE(x.level, 1),
		        COALESCE(st.current_streak, 0), COALESCE(st.longest_streak, 0),
		        (SELECT COUNT(*) FROM challenge_progress cp WHERE cp.user_id = $1 AND cp.completed)
		 FROM (SELECT $1::uuid AS user_id) u
		 LEFT JOIN user_xp x ON x.user_id = u.user_id
		 LEFT JOIN streaks st ON st.user_id = u.user_id`,
		userID,
	).Scan(&stats.TotalXP, &stats.Level, &stats.CurrentStreak, &stats.LongestStreak, &stats.ChallengesCompleted)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event, COUNT(*) FROM xp_ledger WHERE user_id = $1 GROUP BY event`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var event string
		var n int64
		if err := rows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		stats.EventCounts[event] = n
	}
	return stats, rows.Err()
}

// ── Challenges ──────────────────────────────────────────

func (s *Store) ListActiveChallenges(ctx context.Context, event string, at time.Time) ([]models.Challenge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, event, target, bonus_xp, starts_at, ends_at, active
		 FROM challenges
		 WHERE active AND starts_at <= $1 AND ends_at > $1
		   AND ($2 = '' OR event = $2)
		 ORDER BY ends_at, id`,
		at, event,
	)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	out := []models.Challenge{}
	for rows.Next() {
		var c models.Challenge
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Event, &c.Target, &c.BonusXP, &c.StartsAt, &c.EndsAt, &c.Active); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListChallengeProgress(ctx context.Context, userID uuid.UUID) ([]models.ChallengeProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, challenge_id, progress, completed, completed_at, bonus_awarded
		 FROM challenge_progress WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list challenge progress: %w", err)
	}
	defer rows.Close()

	out := []models.ChallengeProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// IncrementChallengeProgress upserts the progress row. The conflict branch
// only fires for rows not yet completed, so exactly one statement can flip
// completed to true. A non-empty idempotency key is claimed in the same
// transaction; a key already claimed leaves the row untouched.
func (s *Store) IncrementChallengeProgress(ctx context.Context, inc gamification.ChallengeIncrement) (*gamification.ChallengeIncrementResult, error) {
	var out *gamification.ChallengeIncrementResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if inc.IdempotencyKey != "" {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO challenge_progress_keys (user_id, challenge_id, idempotency_key, created_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT DO NOTHING`,
				inc.UserID, inc.ChallengeID, inc.IdempotencyKey, inc.At,
			)
			if err != nil {
				return fmt.Errorf("claim challenge key: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				p, err := currentProgress(ctx, tx, inc.UserID, inc.ChallengeID)
				if err != nil {
					return err
				}
				out = &gamification.ChallengeIncrementResult{Progress: *p}
				return nil
			}
		}

		row := tx.QueryRowContext(ctx,
			`INSERT INTO challenge_progress (user_id, challenge_id, progress, completed, completed_at, updated_at)
			 VALUES ($1, $2, LEAST($3::int, $4::int), $3::int >= $4::int,
			         CASE WHEN $3::int >= $4::int THEN $5::timestamptz END, $5)
			 ON CONFLICT (user_id, challenge_id) DO UPDATE SET
			    progress = LEAST(challenge_progress.progress + $3::int, $4::int),
			    completed = challenge_progress.progress + $3::int >= $4::int,
			    completed_at = CASE WHEN challenge_progress.progress + $3::int >= $4::int THEN $5::timestamptz END,
			    updated_at = $5
			 WHERE NOT challenge_progress.completed
			 RETURNING user_id, challenge_id, progress, completed, completed_at, bonus_awarded`,
			inc.UserID, inc.ChallengeID, inc.By, inc.Target, inc.At,
		)
		p, err := scanProgress(row)
		if errors.Is(err, sql.ErrNoRows) {
			// Already completed.
			p, err = currentProgress(ctx, tx, inc.UserID, inc.ChallengeID)
			if err != nil {
				return err
			}
			out = &gamification.ChallengeIncrementResult{Progress: *p}
			return nil
		}
		if err != nil {
			return err
		}
		out = &gamification.ChallengeIncrementResult{Progress: *p, Applied: true, JustCompleted: p.Completed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// currentProgress reads the row as it stands, or zero progress when the user
// has none yet.
func currentProgress(ctx context.Context, tx *sql.Tx, userID, challengeID uuid.UUID) (*models.ChallengeProgress, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, challenge_id, progress, completed, completed_at, bonus_awarded
		 FROM challenge_progress WHERE user_id = $1 AND challenge_id = $2`,
		userID, challengeID,
	)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ChallengeProgress{UserID: userID, ChallengeID: challengeID}, nil
	}
	return p, err
}

func (s *Store) MarkChallengeBonusAwarded(ctx context.Context, userID, challengeID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE challenge_progress SET bonus_awarded = TRUE
		 WHERE user_id = $1 AND challenge_id = $2`,
		userID, challengeID,
	)
	if err != nil {
		return fmt.Errorf("mark challenge bonus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return gamification.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row scanner) (*models.ChallengeProgress, error) {
	var p models.ChallengeProgress
	var completedAt sql.NullTime
	if err := row.Scan(&p.UserID, &p.ChallengeID, &p.Progress, &p.Completed, &completedAt, &p.BonusAwarded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan challenge progress: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func (s *Store) DeactivateEndedChallenges(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE challenges SET active = FALSE WHERE active AND ends_at <= $1`,
		at,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate challenges: %w", err)
	}
	return res.RowsAffected()
}

// ── Rewards ─────────────────────────────────────────────

func (s *Store) GetReward(ctx context.Context, id uuid.UUID) (*models.Reward, error) {
	r, err := scanReward(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, kind, cost, stock, active FROM rewards WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reward %s: %w", id, gamification.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListActiveRewards(ctx context.Context) ([]models.Reward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, kind, cost, stock, active
		 FROM rewards WHERE active
		 ORDER BY cost, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	out := []models.Reward{}
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReward(row scanner) (*models.Reward, error) {
	var r models.Reward
	var stock sql.NullInt64
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Kind, &r.Cost, &stock, &r.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan reward: %w", err)
	}
	if stock.Valid {
		n := int(stock.Int64)
		r.Stock = &n
	}
	return &r, nil
}

// RedeemReward applies the whole redemption in one transaction. Each step
// is a conditional write; the first that matches no row aborts and rolls
// back the others.
func (s *Store) RedeemReward(ctx context.Context, r gamification.Redemption) (*models.UserReward, error) {
	ur := &models.UserReward{
		ID:         r.ID,
		UserID:     r.UserID,
		RewardID:   r.Reward.ID,
		Cost:       r.Reward.Cost,
		Status:     models.UserRewardActive,
		RedeemedAt: r.RedeemedAt,
		ExpiresAt:  r.ExpiresAt,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var cost int64
		var kind string
		err := tx.QueryRowContext(ctx,
			`UPDATE rewards SET stock = CASE WHEN stock IS NULL THEN NULL ELSE stock - 1 END
			 WHERE id = $1 AND active AND (stock IS NULL OR stock > 0)
			 RETURNING cost, kind`,
			r.Reward.ID,
		).Scan(&cost, &kind)
		if errors.Is(err, sql.ErrNoRows) {
			return gamification.ErrOutOfStock
		}
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		ur.Cost = cost

		// A free reward is redeemable before the user has earned anything.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_xp (user_id, updated_at) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO NOTHING`,
			r.UserID, r.RedeemedAt,
		)
		if err != nil {
			return fmt.Errorf("ensure user xp: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE user_xp SET coins = coins - $2, version = version + 1, updated_at = $3
			 WHERE user_id = $1 AND coins >= $2`,
			r.UserID, cost, r.RedeemedAt,
		)
		if err != nil {
			return fmt.Errorf("spend coins: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return gamification.ErrInsufficientFunds
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_rewards (id, user_id, reward_id, cost, status, redeemed_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ur.ID, ur.UserID, ur.RewardID, ur.Cost, ur.Status, ur.RedeemedAt, ur.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("insert user reward: %w", err)
		}

		if kind == models.RewardKindStreakFreeze {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO streaks (user_id, streak_freezes, updated_at) VALUES ($1, 1, $2)
				 ON CONFLICT (user_id) DO UPDATE SET
				    streak_freezes = streaks.streak_freezes + 1, updated_at = $2
				 WHERE streaks.streak_freezes < $3`,
				r.UserID, r.RedeemedAt, r.MaxStreakFreezes,
			)
			if err != nil {
				return fmt.Errorf("grant streak freeze: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return gamification.ErrFreezeLimit
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ur, nil
}

func (s *Store) ListUserRewards(ctx context.Context, userID uuid.UUID) ([]models.UserReward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, reward_id, cost, status, redeemed_at, expires_at
		 FROM user_rewards
		 WHERE user_id = $1
		 ORDER BY redeemed_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user rewards: %w", err)
	}
	defer rows.Close()

	out := []models.UserReward{}
	for rows.Next() {
		var ur models.UserReward
		if err := rows.Scan(&ur.ID, &ur.UserID, &ur.RewardID, &ur.Cost, &ur.Status, &ur.RedeemedAt, &ur.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan user reward: %w", err)
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

func (s *Store) ExpireUserRewards(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_rewards SET status = $2
		 WHERE status = $3 AND expires_at <= $1`,
		at, models.UserRewardExpired, models.UserRewardActive,
	)
	if err != nil {
		return 0, fmt.Errorf("expire user rewards: %w", err)
	}
	return res.RowsAffected()
}

// ── Activity Runs ───────────────────────────────────────

func (s *Store) StartActivityRun(ctx context.Context, key string, userID uuid.UUID, event string) (*models.ActivityRun, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_runs (idempotency_key, user_id, event) VALUES ($1, $2, $3)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, userID, event,
	)
	if err != nil {
		return nil, fmt.Errorf("start activity run: %w", err)
	}

	var run models.ActivityRun
	err = s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, user_id, event, completed_steps, created_at
		 FROM activity_runs WHERE idempotency_key = $1`,
		key,
	).Scan(&run.IdempotencyKey, &run.UserID, &run.Event, pq.Array(&run.CompletedSteps), &run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get activity run: %w", err)
	}
	return &run, nil
}

func (s *Store) MarkActivityStep(ctx context.Context, key, step string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activity_runs SET
		    completed_steps = array_append(completed_steps, $2::text),
		    updated_at = NOW()
		 WHERE idempotency_key = $1 AND NOT ($2::text = ANY(completed_steps))`,
		key, step,
	)
	if err != nil {
		return fmt.Errorf("mark activity step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM activity_runs WHERE idempotency_key = $1)`, key,
	).Scan(&exists); err != nil {
		return fmt.Errorf("mark activity step: %w", err)
	}
	if !exists {
		return fmt.Errorf("activity run %q: %w", key, gamification.ErrNotFound)
	}
	return nil
}

// ── Profiles ────────────────────────────────────────────

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM profiles WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Email, &p.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, gamification.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}
