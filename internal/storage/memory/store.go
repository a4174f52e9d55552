// Package memory is a mutex-guarded, map-backed gamification.Store used by
// the dev driver and the engine tests. Every method holds the lock for its
// whole body, so each call is atomic the way a single SQL transaction is.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/models"
)

type progressKey struct {
	userID      uuid.UUID
	challengeID uuid.UUID
}

// challengeKey records an idempotency key already counted toward a challenge.
type challengeKey struct {
	progressKey
	idempotencyKey string
}

type Store struct {
	mu sync.Mutex

	xp          map[uuid.UUID]*models.UserXP
	ledger      []models.XPLedgerEntry
	ledgerSeq   int64
	streaks     map[uuid.UUID]*models.StreakRecord
	badges      []models.Badge
	userBadges  map[uuid.UUID]map[uuid.UUID]time.Time
	challenges  map[uuid.UUID]*models.Challenge
	progress    map[progressKey]*models.ChallengeProgress
	progressIDs map[challengeKey]struct{}
	rewards     map[uuid.UUID]*models.Reward
	userRewards []models.UserReward
	runs        map[string]*models.ActivityRun
	profiles    map[uuid.UUID]models.Profile
}

var _ gamification.Store = (*Store)(nil)

// New returns an empty store holding the default badge catalog.
func New() *Store {
	return &Store{
		xp:          make(map[uuid.UUID]*models.UserXP),
		streaks:     make(map[uuid.UUID]*models.StreakRecord),
		badges:      gamification.DefaultBadges(),
		userBadges:  make(map[uuid.UUID]map[uuid.UUID]time.Time),
		challenges:  make(map[uuid.UUID]*models.Challenge),
		progress:    make(map[progressKey]*models.ChallengeProgress),
		progressIDs: make(map[challengeKey]struct{}),
		rewards:     make(map[uuid.UUID]*models.Reward),
		runs:        make(map[string]*models.ActivityRun),
		profiles:    make(map[uuid.UUID]models.Profile),
	}
}

// ── Fixtures ────────────────────────────────────────────

func (s *Store) SetBadges(badges []models.Badge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges = append([]models.Badge(nil), badges...)
}

func (s *Store) AddChallenge(c models.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.ID] = &c
}

func (s *Store) AddReward(r models.Reward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Stock != nil {
		stock := *r.Stock
		r.Stock = &stock
	}
	s.rewards[r.ID] = &r
}

func (s *Store) AddProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// PutUserXP overwrites a user's totals.
func (s *Store) PutUserXP(u models.UserXP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xp[u.UserID] = &u
}

func (s *Store) PutStreak(r models.StreakRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[r.UserID] = &r
}

// ── XP ──────────────────────────────────────────────────

func (s *Store) GetUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.xp[userID]
	if !ok {
		return nil, fmt.Errorf("user xp %s: %w", userID, gamification.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetOrCreateUserXP(ctx context.Context, userID uuid.UUID) (*models.UserXP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.xp[userID]
	if !ok {
		u = &models.UserXP{UserID: userID, Level: 1, UpdatedAt: time.Now().UTC()}
		s.xp[userID] = u
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UpdateUserXP(ctx context.Context, next *models.UserXP, prevVersion int64, entry *models.XPLedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry != nil && entry.IdempotencyKey != "" {
		for _, e := range s.ledger {
			if e.UserID == entry.UserID && e.IdempotencyKey == entry.IdempotencyKey {
				return false, gamification.ErrAlreadyApplied
			}
		}
	}

	cur, ok := s.xp[next.UserID]
	if !ok || cur.Version != prevVersion {
		return false, nil
	}
	if next.Coins < 0 {
		return false, fmt.Errorf("coins would go negative: %w", gamification.ErrInsufficientFunds)
	}

	cp := *next
	s.xp[next.UserID] = &cp
	if entry != nil {
		s.ledgerSeq++
		e := *entry
		e.ID = s.ledgerSeq
		s.ledger = append(s.ledger, e)
	}
	return true, nil
}

func (s *Store) ListXPLedger(ctx context.Context, userID uuid.UUID, limit int) ([]models.XPLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.XPLedgerEntry{}
	for i := len(s.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]models.UserXP, 0, len(s.xp))
	for _, u := range s.xp {
		rows = append(rows, *u)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalXP != rows[j].TotalXP {
			return rows[i].TotalXP > rows[j].TotalXP
		}
		return rows[i].UserID.String() < rows[j].UserID.String()
	})

	out := []models.LeaderboardEntry{}
	for i, u := range rows {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, models.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.UserID,
			DisplayName: s.profiles[u.UserID].DisplayName(),
			TotalXP:     u.TotalXP,
			Level:       u.Level,
		})
	}
	return out, nil
}

// ── Streaks ─────────────────────────────────────────────

func (s *Store) GetStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.streaks[userID]
	if !ok {
		return nil, fmt.Errorf("streak %s: %w", userID, gamification.ErrNotFound)
	}
	return copyStreak(r), nil
}

func (s *Store) GetOrCreateStreak(ctx context.Context, userID uuid.UUID) (*models.StreakRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.streaks[userID]
	if !ok {
		r = &models.StreakRecord{UserID: userID, UpdatedAt: time.Now().UTC()}
		s.streaks[userID] = r
	}
	return copyStreak(r), nil
}

func (s *Store) CompareAndSetStreak(ctx context.Context, next *models.StreakRecord, prevLastActivity *time.Time, freezesUsed int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.streaks[next.UserID]
	if !ok || !sameDate(cur.LastActivityDate, prevLastActivity) || cur.StreakFreezes < freezesUsed {
		return false, nil
	}

	cur.CurrentStreak = next.CurrentStreak
	cur.LongestStreak = next.LongestStreak
	cur.StreakFreezes -= freezesUsed
	if next.LastActivityDate != nil {
		d := *next.LastActivityDate
		cur.LastActivityDate = &d
	}
	cur.UpdatedAt = next.UpdatedAt
	return true, nil
}

func copyStreak(r *models.StreakRecord) *models.StreakRecord {
	cp := *r
	if r.LastActivityDate != nil {
		d := *r.LastActivityDate
		cp.LastActivityDate = &d
	}
	return &cp
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// ── Badges ──────────────────────────────────────────────

func (s *Store) ListBadges(ctx context.Context) ([]models.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]models.Badge(nil), s.badges...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *Store) ListUserBadges(ctx context.Context, userID uuid.UUID) ([]models.UserBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.UserBadge{}
	for badgeID, at := range s.userBadges[userID] {
		out = append(out, models.UserBadge{UserID: userID, BadgeID: badgeID, EarnedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (s *Store) InsertUserBadge(ctx context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	earned, ok := s.userBadges[userID]
	if !ok {
		earned = make(map[uuid.UUID]time.Time)
		s.userBadges[userID] = earned
	}
	if _, dup := earned[badgeID]; dup {
		return false, nil
	}
	earned[badgeID] = earnedAt
	return true, nil
}

func (s *Store) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.UserStats{Level: 1, EventCounts: make(map[string]int64)}
	if u, ok := s.xp[userID]; ok {
		stats.TotalXP = u.TotalXP
		stats.Level = u.Level
	}
	if r, ok := s.streaks[userID]; ok {
		stats.CurrentStreak = r.CurrentStreak
		stats.LongestStreak = r.LongestStreak
	}
	for _, e := range s.ledger {
		if e.UserID == userID {
			stats.EventCounts[e.Event]++
		}
	}
	for k, p := range s.progress {
		if k.userID == userID && p.Completed {
			stats.ChallengesCompleted++
		}
	}
	return stats, nil
}

// ── Challenges ──────────────────────────────────────────

func (s *Store) ListActiveChallenges(ctx context.Context, event string, at time.Time) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Challenge{}
	for _, c := range s.challenges {
		if !c.Active || at.Before(c.StartsAt) || !at.Before(c.EndsAt) {
			continue
		}
		if event != "" && c.Event != event {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndsAt.Equal(out[j].EndsAt) {
			return out[i].EndsAt.Before(out[j].EndsAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListChallengeProgress(ctx context.Context, userID uuid.UUID) ([]models.ChallengeProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.ChallengeProgress{}
	for k, p := range s.progress {
		if k.userID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) IncrementChallengeProgress(ctx context.Context, inc gamification.ChallengeIncrement) (*gamification.ChallengeIncrementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID: inc.UserID, challengeID: inc.ChallengeID}
	current := models.ChallengeProgress{UserID: inc.UserID, ChallengeID: inc.ChallengeID}
	p, ok := s.progress[key]
	if ok {
		current = *p
	}

	idem := challengeKey{progressKey: key, idempotencyKey: inc.IdempotencyKey}
	if inc.IdempotencyKey != "" {
		if _, seen := s.progressIDs[idem]; seen {
			return &gamification.ChallengeIncrementResult{Progress: current}, nil
		}
	}
	if current.Completed {
		return &gamification.ChallengeIncrementResult{Progress: current}, nil
	}

	if !ok {
		p = &current
		s.progress[key] = p
	}
	if inc.IdempotencyKey != "" {
		s.progressIDs[idem] = struct{}{}
	}

	p.Progress = min(p.Progress+inc.By, inc.Target)
	justCompleted := p.Progress >= inc.Target
	if justCompleted {
		p.Completed = true
		done := inc.At
		p.CompletedAt = &done
	}
	return &gamification.ChallengeIncrementResult{Progress: *p, Applied: true, JustCompleted: justCompleted}, nil
}

func (s *Store) MarkChallengeBonusAwarded(ctx context.Context, userID, challengeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[progressKey{userID: userID, challengeID: challengeID}]
	if !ok {
		return gamification.ErrNotFound
	}
	p.BonusAwarded = true
	return nil
}

func (s *Store) DeactivateEndedChallenges(ctx context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.challenges {
		if c.Active && !at.Before(c.EndsAt) {
			c.Active = false
			n++
		}
	}
	return n, nil
}

// ── Rewards ─────────────────────────────────────────────

func (s *Store) GetReward(ctx context.Context, id uuid.UUID) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rewards[id]
	if !ok {
		return nil, fmt.Errorf("reward %s: %w", id, gamification.ErrNotFound)
	}
	return copyReward(r), nil
}

func (s *Store) ListActiveRewards(ctx context.Context) ([]models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Reward{}
	for _, r := range s.rewards {
		if r.Active {
			out = append(out, *copyReward(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RedeemReward checks every condition before mutating anything so a
// failure leaves the store untouched.
func (s *Store) RedeemReward(ctx context.Context, r gamification.Redemption) (*models.UserReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward, ok := s.rewards[r.Reward.ID]
	if !ok || !reward.Active {
		return nil, fmt.Errorf("reward %s: %w", r.Reward.ID, gamification.ErrNotFound)
	}
	if reward.Stock != nil && *reward.Stock <= 0 {
		return nil, gamification.ErrOutOfStock
	}
	balance, ok := s.xp[r.UserID]
	if !ok {
		balance = &models.UserXP{UserID: r.UserID, Level: 1}
	}
	if balance.Coins < reward.Cost {
		return nil, gamification.ErrInsufficientFunds
	}
	isFreeze := reward.Kind == models.RewardKindStreakFreeze
	if isFreeze {
		if st, ok := s.streaks[r.UserID]; ok && st.StreakFreezes >= r.MaxStreakFreezes {
			return nil, gamification.ErrFreezeLimit
		}
	}

	if reward.Stock != nil {
		*reward.Stock--
	}
	if !ok {
		s.xp[r.UserID] = balance
	}
	balance.Coins -= reward.Cost
	balance.Version++
	balance.UpdatedAt = r.RedeemedAt
	if isFreeze {
		st, ok := s.streaks[r.UserID]
		if !ok {
			st = &models.StreakRecord{UserID: r.UserID}
			s.streaks[r.UserID] = st
		}
		st.StreakFreezes++
		st.UpdatedAt = r.RedeemedAt
	}

	ur := models.UserReward{
		ID:         r.ID,
		UserID:     r.UserID,
		RewardID:   reward.ID,
		Cost:       reward.Cost,
		Status:     models.UserRewardActive,
		RedeemedAt: r.RedeemedAt,
		ExpiresAt:  r.ExpiresAt,
	}
	s.userRewards = append(s.userRewards, ur)
	return &ur, nil
}

func (s *Store) ListUserRewards(ctx context.Context, userID uuid.UUID) ([]models.UserReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.UserReward{}
	for i := len(s.userRewards) - 1; i >= 0; i-- {
		if s.userRewards[i].UserID == userID {
			out = append(out, s.userRewards[i])
		}
	}
	return out, nil
}

func (s *Store) ExpireUserRewards(ctx context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.userRewards {
		ur := &s.userRewards[i]
		if ur.Status == models.UserRewardActive && !at.Before(ur.ExpiresAt) {
			ur.Status = models.UserRewardExpired
			n++
		}
	}
	return n, nil
}

func copyReward(r *models.Reward) *models.Reward {
	cp := *r
	if r.Stock != nil {
		stock := *r.Stock
		cp.Stock = &stock
	}
	return &cp
}

// ── Activity Runs ───────────────────────────────────────

func (s *Store) StartActivityRun(ctx context.Context, key string, userID uuid.UUID, event string) (*models.ActivityRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[key]
	if !ok {
		run = &models.ActivityRun{IdempotencyKey: key, UserID: userID, Event: event, CompletedSteps: []string{}, CreatedAt: time.Now().UTC()}
		s.runs[key] = run
	}
	cp := *run
	cp.CompletedSteps = slices.Clone(run.CompletedSteps)
	return &cp, nil
}

func (s *Store) MarkActivityStep(ctx context.Context, key, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[key]
	if !ok {
		return fmt.Errorf("activity run %q: %w", key, gamification.ErrNotFound)
	}
	if !slices.Contains(run.CompletedSteps, step) {
		run.CompletedSteps = append(run.CompletedSteps, step)
	}
	return nil
}

// ── Profiles ────────────────────────────────────────────

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, gamification.ErrNotFound)
	}
	return &p, nil
}
