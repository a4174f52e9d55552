package gamification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

const (
	defaultRewardExpiry     = 30 * 24 * time.Hour
	defaultMaxStreakFreezes = 3
	defaultHistoryLimit     = 50
	maxListLimit            = 200
)

// Notifier receives user-facing notifications. Implementations must not
// block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) {}

type Service struct {
	store            Store
	events           *EventTable
	notifier         Notifier
	logger           *zap.Logger
	metrics          *Metrics
	now              func() time.Time
	rewardExpiry     time.Duration
	maxStreakFreezes int
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now. Tests use it to pin "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRewardExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rewardExpiry = d
		}
	}
}

func WithMaxStreakFreezes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxStreakFreezes = n
		}
	}
}

func NewService(store Store, events *EventTable, opts ...Option) *Service {
	if events == nil {
		events = DefaultEventTable()
	}
	s := &Service{
		store:            store,
		events:           events,
		notifier:         nopNotifier{},
		logger:           zap.NewNop(),
		now:              time.Now,
		rewardExpiry:     defaultRewardExpiry,
		maxStreakFreezes: defaultMaxStreakFreezes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Read Models ─────────────────────────────────────────

// GetSummary assembles the dashboard view. Users with no activity yet get
// a zero summary rather than an error.
func (s *Service) GetSummary(ctx context.Context, userID uuid.UUID) (*models.SummaryResponse, error) {
	resp := &models.SummaryResponse{Level: 1, Badges: []models.EarnedBadge{}}

	xp, err := s.store.GetUserXP(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, persistErr("load xp", err)
	default:
		resp.TotalXP = xp.TotalXP
		resp.Level = xp.Level
		resp.Coins = xp.Coins
	}
	resp.XPToNextLevel = XPToNextLevel(resp.TotalXP)

	streak, err := s.store.GetStreak(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, persistErr("load streak", err)
	default:
		resp.CurrentStreak = streak.CurrentStreak
		// A gap the next activity would reset is already a broken streak.
		if _, _, outcome := NextStreak(*streak, s.now()); outcome == StreakReset {
			resp.CurrentStreak = 0
		}
		resp.LongestStreak = streak.LongestStreak
		resp.StreakFreezes = streak.StreakFreezes
		if streak.LastActivityDate != nil {
			resp.LastActivityDate = streak.LastActivityDate.Format("2006-01-02")
		}
	}

	entries, err := s.ListBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Earned {
			resp.Badges = append(resp.Badges, models.EarnedBadge{
				Code:     e.Code,
				Name:     e.Name,
				Rarity:   e.Rarity,
				EarnedAt: *e.EarnedAt,
			})
		}
	}

	owned, err := s.store.ListUserRewards(ctx, userID)
	if err != nil {
		return nil, persistErr("load user rewards", err)
	}
	for _, ur := range owned {
		if ur.Status == models.UserRewardActive {
			resp.ActiveRewardCount++
		}
	}

	return resp, nil
}

// ListBadges returns the whole catalog in catalog order with the user's
// earned flags filled in.
func (s *Service) ListBadges(ctx context.Context, userID uuid.UUID) ([]models.BadgeEntry, error) {
	catalog, err := s.store.ListBadges(ctx)
	if err != nil {
		return nil, persistErr("load badges", err)
	}
	earned, err := s.store.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, persistErr("load user badges", err)
	}
	earnedAt := make(map[uuid.UUID]time.Time, len(earned))
	for _, ub := range earned {
		earnedAt[ub.BadgeID] = ub.EarnedAt
	}

	out := make([]models.BadgeEntry, 0, len(catalog))
	for _, b := range catalog {
		entry := models.BadgeEntry{Badge: b}
		if at, ok := earnedAt[b.ID]; ok {
			at := at
			entry.Earned = true
			entry.EarnedAt = &at
		}
		out = append(out, entry)
	}
	return out, nil
}

// ListChallenges returns every open challenge with the user's progress.
func (s *Service) ListChallenges(ctx context.Context, userID uuid.UUID) ([]models.ChallengeEntry, error) {
	open, err := s.store.ListActiveChallenges(ctx, "", s.now().UTC())
	if err != nil {
		return nil, persistErr("load challenges", err)
	}
	progress, err := s.store.ListChallengeProgress(ctx, userID)
	if err != nil {
		return nil, persistErr("load challenge progress", err)
	}
	byChallenge := make(map[uuid.UUID]models.ChallengeProgress, len(progress))
	for _, p := range progress {
		byChallenge[p.ChallengeID] = p
	}

	out := make([]models.ChallengeEntry, 0, len(open))
	for _, c := range open {
		p := byChallenge[c.ID]
		out = append(out, models.ChallengeEntry{Challenge: c, Progress: p.Progress, Completed: p.Completed})
	}
	return out, nil
}

func (s *Service) ListRewards(ctx context.Context) ([]models.Reward, error) {
	rewards, err := s.store.ListActiveRewards(ctx)
	if err != nil {
		return nil, persistErr("load rewards", err)
	}
	return rewards, nil
}

func (s *Service) ListUserRewards(ctx context.Context, userID uuid.UUID) ([]models.UserReward, error) {
	owned, err := s.store.ListUserRewards(ctx, userID)
	if err != nil {
		return nil, persistErr("load user rewards", err)
	}
	return owned, nil
}

// XPHistory returns ledger entries newest first.
func (s *Service) XPHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPLedgerEntry, error) {
	entries, err := s.store.ListXPLedger(ctx, userID, clampLimit(limit, defaultHistoryLimit))
	if err != nil {
		return nil, persistErr("load xp history", err)
	}
	return entries, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	entries, err := s.store.Leaderboard(ctx, clampLimit(limit, 20))
	if err != nil {
		return nil, persistErr("load leaderboard", err)
	}
	return entries, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ── Maintenance ─────────────────────────────────────────

// ExpireRewards marks redeemed rewards past their expiry as expired.
func (s *Service) ExpireRewards(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireUserRewards(ctx, s.now().UTC())
	if err != nil {
		return 0, persistErr("expire user rewards", err)
	}
	if n > 0 {
		s.logger.Info("expired user rewards", zap.Int64("count", n))
	}
	return n, nil
}

// CloseEndedChallenges deactivates challenges whose window has passed.
func (s *Service) CloseEndedChallenges(ctx context.Context) (int64, error) {
	n, err := s.store.DeactivateEndedChallenges(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("close ended challenges: %w", persistErr("deactivate", err))
	}
	if n > 0 {
		s.logger.Info("closed ended challenges", zap.Int64("count", n))
	}
	return n, nil
}
