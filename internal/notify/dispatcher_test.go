package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorly/backend/internal/coach"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type profileMap map[uuid.UUID]models.Profile

func (m profileMap) GetProfile(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (c *captureSender) Send(_ context.Context, e Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, e)
	return nil
}

func newDispatcher(t *testing.T, profiles profileMap, sender Sender, opts ...DispatcherOption) (*Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	composer := coach.NewComposer(nil, time.Second, nil)
	return NewDispatcher(profiles, composer, sender, zap.New(core), opts...), logs
}

// blockingSender holds every send until release is closed.
type blockingSender struct {
	captureSender
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSender) Send(ctx context.Context, e Email) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.captureSender.Send(ctx, e)
}

func levelUp(userID uuid.UUID) models.Notification {
	return models.Notification{
		UserID:  userID,
		Kind:    models.NotificationLevelUp,
		Subject: "You reached level 2!",
		Facts:   map[string]string{"level": "2"},
	}
}

func TestDispatcherSendsComposedEmail(t *testing.T) {
	id := uuid.New()
	sender := &captureSender{}
	d, _ := newDispatcher(t, profileMap{id: {ID: id, Email: "grace@example.com", FullName: "Grace Hopper"}}, sender)

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, levelUp(id))
	cancel()
	d.Close()

	require.Len(t, sender.sent, 1)
	e := sender.sent[0]
	assert.Equal(t, "grace@example.com", e.ToAddress)
	assert.Equal(t, "Grace Hopper", e.ToName)
	assert.Equal(t, "You reached level 2!", e.Subject)
	assert.Contains(t, e.Body, "Grace")
}

func TestDispatcherDropsWithoutProfile(t *testing.T) {
	id := uuid.New()
	noEmail := uuid.New()
	sender := &captureSender{}
	d, logs := newDispatcher(t, profileMap{noEmail: {ID: noEmail, FullName: "Nobody"}}, sender)

	d.Notify(context.Background(), levelUp(id))
	d.Notify(context.Background(), levelUp(noEmail))
	d.Close()

	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, logs.FilterMessage("notification dropped: no profile").Len())
	assert.Equal(t, 1, logs.FilterMessage("notification dropped: no email").Len())
}

func TestDispatcherLogsSendFailure(t *testing.T) {
	id := uuid.New()
	d, logs := newDispatcher(t, profileMap{id: {ID: id, Email: "a@example.com"}}, &captureSender{err: errors.New("smtp down")})

	d.Notify(context.Background(), levelUp(id))
	d.Close()

	entries := logs.FilterMessage("notification send failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "level_up", entries[0].ContextMap()["kind"])
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	id := uuid.New()
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	d, logs := newDispatcher(t, profileMap{id: {ID: id, Email: "a@example.com"}}, sender, WithWorkers(1), WithQueueSize(1))

	d.Notify(context.Background(), levelUp(id))
	<-sender.started
	for i := 0; i < 4; i++ {
		d.Notify(context.Background(), levelUp(id))
	}
	close(sender.release)
	d.Close()

	assert.Len(t, sender.sent, 2, "one in flight, one queued")
	assert.Equal(t, 3, logs.FilterMessage("notification dropped: queue full").Len())

	d.Notify(context.Background(), levelUp(id))
	assert.Equal(t, 1, logs.FilterMessage("notification dropped: dispatcher closed").Len())
	d.Close()
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), Email{ToAddress: "a@example.com", Subject: "Hi", Body: "Hello"}))
	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Hi", entries[0].ContextMap()["subject"])
}

func TestSendGridPrepare(t *testing.T) {
	s := NewSendGridSender("key", "Tutorly", "noreply@tutorly.example")
	m := s.prepare(Email{ToName: "Ada", ToAddress: "ada@example.com", Subject: "Badge", Body: "Well done"})

	assert.Equal(t, "noreply@tutorly.example", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "Badge", m.Personalizations[0].Subject)
	require.Len(t, m.Personalizations[0].To, 1)
	assert.Equal(t, "ada@example.com", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
}

func TestSendGridSendHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewSendGridSender("key", "Tutorly", "noreply@tutorly.example")
	s.host = srv.URL

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, Email{ToAddress: "ada@example.com", Subject: "Badge", Body: "Well done"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendGridSendReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s := NewSendGridSender("key", "Tutorly", "noreply@tutorly.example")
	s.host = srv.URL

	err := s.Send(context.Background(), Email{ToAddress: "ada@example.com", Subject: "Badge", Body: "Well done"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
