package gamification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/models"
	"github.com/tutorly/backend/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

var day0 = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

type fixture struct {
	svc      *gamification.Service
	store    *memory.Store
	clock    *fakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...gamification.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), opts...)
}

func newFixtureWithStore(t *testing.T, store gamification.Store, opts ...gamification.Option) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(day0), notifier: &recordingNotifier{}}
	if mem, ok := store.(*memory.Store); ok {
		f.store = mem
	}
	switch st := store.(type) {
	case *flakyStore:
		f.store = st.Store
	case *barrierStore:
		f.store = st.Store
	}
	base := []gamification.Option{
		gamification.WithClock(f.clock.Now),
		gamification.WithNotifier(f.notifier),
	}
	f.svc = gamification.NewService(store, nil, append(base, opts...)...)
	return f
}

func (f *fixture) xp(t *testing.T, userID uuid.UUID) models.UserXP {
	t.Helper()
	u, err := f.store.GetUserXP(context.Background(), userID)
	if errors.Is(err, gamification.ErrNotFound) {
		return models.UserXP{UserID: userID, Level: 1}
	}
	require.NoError(t, err)
	return *u
}

func intPtr(n int) *int { return &n }

// flakyStore injects failures into an otherwise working memory store.
type flakyStore struct {
	*memory.Store

	mu              sync.Mutex
	failStats       bool
	failMarkFor     map[string]int
	failBonusWrites int
}

var errInjected = errors.New("injected failure")

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New(), failMarkFor: map[string]int{}}
}

func (s *flakyStore) setFailStats(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStats = v
}

// failChallengeBonus makes the next n challenge bonus XP writes fail.
func (s *flakyStore) failChallengeBonus(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBonusWrites = n
}

func (s *flakyStore) UpdateUserXP(ctx context.Context, next *models.UserXP, prevVersion int64, entry *models.XPLedgerEntry) (bool, error) {
	s.mu.Lock()
	if entry != nil && entry.Event == string(gamification.EventChallengeCompleted) && s.failBonusWrites > 0 {
		s.failBonusWrites--
		s.mu.Unlock()
		return false, errInjected
	}
	s.mu.Unlock()
	return s.Store.UpdateUserXP(ctx, next, prevVersion, entry)
}

func (s *flakyStore) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	s.mu.Lock()
	fail := s.failStats
	s.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	return s.Store.GetUserStats(ctx, userID)
}

func (s *flakyStore) MarkActivityStep(ctx context.Context, key, step string) error {
	s.mu.Lock()
	if s.failMarkFor[step] > 0 {
		s.failMarkFor[step]--
		s.mu.Unlock()
		return errInjected
	}
	s.mu.Unlock()
	return s.Store.MarkActivityStep(ctx, key, step)
}

// barrierStore holds every activity run at StartActivityRun until n runs
// have read their state, so they all proceed from the same snapshot.
type barrierStore struct {
	*memory.Store
	gate sync.WaitGroup
}

func newBarrierStore(n int) *barrierStore {
	s := &barrierStore{Store: memory.New()}
	s.gate.Add(n)
	return s
}

func (s *barrierStore) StartActivityRun(ctx context.Context, key string, userID uuid.UUID, event string) (*models.ActivityRun, error) {
	run, err := s.Store.StartActivityRun(ctx, key, userID, event)
	s.gate.Done()
	s.gate.Wait()
	return run, err
}
