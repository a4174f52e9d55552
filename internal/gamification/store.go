package gamification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
)

// XPStore persists per-user XP totals and the XP ledger.
type XPStore interface {
	// GetUserXP returns ErrNotFound when the user has never been awarded anything.
	GetUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error)
	GetOrCreateUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error)
	// UpdateUserXP writes next only if the stored version still equals
	// prevVersion, inserting entry in the same transaction. It reports false on
	// a version mismatch and ErrAlreadyApplied when entry's idempotency key
	// was already recorded for the user.
	UpdateUserXP(ctx context.Context, next *models.UserXP, prevVersion int64, entry *models.XPLedgerEntry) (bool, error)
	ListXPLedger(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPLedgerEntry, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// StreakStore persists per-user streak records.
type StreakStore interface {
	GetStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error)
	GetOrCreateStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error)
	// CompareAndSetStreak applies next only if the stored last activity date
	// still equals prevLastActivity and at least freezesUsed freezes remain.
	// Freezes are decremented relative to the stored value.
	CompareAndSetStreak(ctx context.Context, next *models.StreakRecord, prevLastActivity *time.Time, freezesUsed int) (bool, error)
}

// BadgeStore reads the seeded catalog and records earned badges.
type BadgeStore interface {
	// ListBadges returns the catalog ordered by sort order, then code.
	ListBadges(ctx context.Context) ([]models.Badge, error)
	ListUserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error)
	// InsertUserBadge reports false when the pair already exists.
	InsertUserBadge(ctx context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (bool, error)
	GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
}

// ChallengeStore tracks time-boxed challenges and per-user progress.
type ChallengeStore interface {
	// ListActiveChallenges returns challenges open at the given instant. An
	// empty event matches every event.
	ListActiveChallenges(ctx context.Context, event string, at time.Time) ([]models.Challenge, error)
	ListChallengeProgress(ctx context.Context, userID uuid.UUID) ([]models.ChallengeProgress, error)
	// IncrementChallengeProgress applies inc to an incomplete row, capped at
	// the target, and records inc's idempotency key in the same write. The
	// result always carries the row as it stands afterwards.
	IncrementChallengeProgress(ctx context.Context, inc ChallengeIncrement) (*ChallengeIncrementResult, error)
	// MarkChallengeBonusAwarded flags that the completion bonus was credited.
	MarkChallengeBonusAwarded(ctx context.Context, userID, challengeID uuid.UUID) error
	DeactivateEndedChallenges(ctx context.Context, at time.Time) (int64, error)
}

// ChallengeIncrement is one event's contribution to a challenge. An empty
// IdempotencyKey is never deduplicated.
type ChallengeIncrement struct {
	UserID         uuid.UUID
	ChallengeID    uuid.UUID
	By             int
	Target         int
	At             time.Time
	IdempotencyKey string
}

// ChallengeIncrementResult reports what an increment did. Applied is false
// when the row was already completed or the key was already counted;
// JustCompleted is true only for the increment that first reached the target.
type ChallengeIncrementResult struct {
	Progress      models.ChallengeProgress
	Applied       bool
	JustCompleted bool
}

// Redemption is everything the store needs to apply a reward redemption
// as a single unit.
type Redemption struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Reward           models.Reward
	RedeemedAt       time.Time
	ExpiresAt        time.Time
	MaxStreakFreezes int
}

// RewardStore owns the reward catalog and redemptions.
type RewardStore interface {
	GetReward(ctx context.Context, id uuid.UUID) (*models.Reward, error)
	ListActiveRewards(ctx context.Context) ([]models.Reward, error)
	// RedeemReward decrements stock and coins conditionally, records the
	// user reward and grants a streak freeze for freeze rewards, all or
	// nothing. Failed conditions surface as ErrOutOfStock,
	// ErrInsufficientFunds or ErrFreezeLimit.
	RedeemReward(ctx context.Context, r Redemption) (*models.UserReward, error)
	ListUserRewards(ctx context.Context, userID uuid.UUID) ([]models.UserReward, error)
	ExpireUserRewards(ctx context.Context, at time.Time) (int64, error)
}

// ActivityStore records which pipeline steps ran for an idempotency key.
type ActivityStore interface {
	StartActivityRun(ctx context.Context, key string, userID uuid.UUID, event string) (*models.ActivityRun, error)
	MarkActivityStep(ctx context.Context, key, step string) error
}

// ProfileStore is a read-only view of the identity provider's profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type Store interface {
	XPStore
	StreakStore
	BadgeStore
	ChallengeStore
	RewardStore
	ActivityStore
	ProfileStore
}
