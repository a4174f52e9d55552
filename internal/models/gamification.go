package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Core Gamification Structs ─────────────────────────────

type UserXP struct {
	UserID    uuid.UUID `json:"user_id"`
	TotalXP   int64     `json:"total_xp"`
	Level     int       `json:"level"`
	Coins     int64     `json:"coins"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

type XPLedgerEntry struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Event          string    `json:"event"`
	Points         int64     `json:"points"`
	Coins          int64     `json:"coins"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

type StreakRecord struct {
	UserID           uuid.UUID  `json:"user_id"`
	CurrentStreak    int        `json:"current_streak"`
	LongestStreak    int        `json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date"`
	StreakFreezes    int        `json:"streak_freezes"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Badge struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rarity      string    `json:"rarity"`
	Stat        string    `json:"stat"`
	Threshold   int64     `json:"threshold"`
	SortOrder   int       `json:"sort_order"`
}

type UserBadge struct {
	UserID   uuid.UUID `json:"user_id"`
	BadgeID  uuid.UUID `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
}

type Challenge struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Event       string    `json:"event"`
	Target      int       `json:"target"`
	BonusXP     int64     `json:"bonus_xp"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Active      bool      `json:"active"`
}

type ChallengeProgress struct {
	UserID      uuid.UUID  `json:"user_id"`
	ChallengeID uuid.UUID  `json:"challenge_id"`
	Progress    int        `json:"progress"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// BonusAwarded is set once the completion bonus has been credited.
	BonusAwarded bool `json:"bonus_awarded"`
}

type Reward struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Kind        string    `json:"kind"`
	Cost        int64     `json:"cost"`
	Stock       *int      `json:"stock"` // nil means unlimited
	Active      bool      `json:"active"`
}

type UserReward struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	RewardID   uuid.UUID `json:"reward_id"`
	Cost       int64     `json:"cost"`
	Status     string    `json:"status"`
	RedeemedAt time.Time `json:"redeemed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ActivityRun struct {
	IdempotencyKey string    `json:"idempotency_key"`
	UserID         uuid.UUID `json:"user_id"`
	Event          string    `json:"event"`
	CompletedSteps []string  `json:"completed_steps"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserStats is the snapshot badge predicates are evaluated against.
// EventCounts is keyed by event name and counts ledger rows.
type UserStats struct {
	TotalXP             int64
	Level               int
	CurrentStreak       int
	LongestStreak       int
	ChallengesCompleted int64
	EventCounts         map[string]int64
}

// ── Reward / Challenge Constants ──────────────────────────

const (
	RewardKindItem         = "item"
	RewardKindStreakFreeze = "streak_freeze"

	UserRewardActive  = "active"
	UserRewardExpired = "expired"
)

const (
	RarityCommon    = "common"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// ── Request Types ─────────────────────────────────────────

type RecordEventRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	Event          string `json:"event" validate:"required"`
	ReferenceID    string `json:"reference_id,omitempty" validate:"max=128"`
	Description    string `json:"description,omitempty" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=200"`
}

type AwardXPRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Event       string `json:"event" validate:"required"`
	ReferenceID string `json:"reference_id,omitempty" validate:"max=128"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

type ChallengeProgressRequest struct {
	Event string `json:"event" validate:"required"`
}

// ── Response Types ────────────────────────────────────────

type SummaryResponse struct {
	TotalXP           int64         `json:"total_xp"`
	Level             int           `json:"level"`
	XPToNextLevel     int64         `json:"xp_to_next_level"`
	Coins             int64         `json:"coins"`
	CurrentStreak     int           `json:"current_streak"`
	LongestStreak     int           `json:"longest_streak"`
	StreakFreezes     int           `json:"streak_freezes"`
	LastActivityDate  string        `json:"last_activity_date,omitempty"`
	Badges            []EarnedBadge `json:"badges"`
	ActiveRewardCount int           `json:"active_reward_count"`
}

type EarnedBadge struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Rarity   string    `json:"rarity"`
	EarnedAt time.Time `json:"earned_at"`
}

type BadgeEntry struct {
	Badge
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earned_at,omitempty"`
}

type ChallengeEntry struct {
	Challenge
	Progress  int  `json:"progress"`
	Completed bool `json:"completed"`
}

type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	TotalXP     int64     `json:"total_xp"`
	Level       int       `json:"level"`
}

// ── Notifications ─────────────────────────────────────────

const (
	NotificationLevelUp            = "level_up"
	NotificationBadgeEarned        = "badge_earned"
	NotificationChallengeCompleted = "challenge_completed"
)

// Notification is handed to the notification collaborator. Facts carries
// the values a message composer may mention.
type Notification struct {
	UserID  uuid.UUID
	Kind    string
	Subject string
	Facts   map[string]string
}
