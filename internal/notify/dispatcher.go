// Package notify delivers gamification notifications to users. Delivery runs
// off the request path: Notify returns immediately and failures are logged.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tutorly/backend/internal/coach"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

type ProfileSource interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type Composer interface {
	Compose(ctx context.Context, profile models.Profile, n models.Notification) coach.Message
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

type job struct {
	ctx context.Context
	n   models.Notification
}

// Dispatcher implements gamification.Notifier. A fixed set of workers drains
// a bounded queue; notifications arriving while the queue is full are dropped.
type Dispatcher struct {
	profiles ProfileSource
	composer Composer
	sender   Sender
	timeout  time.Duration
	logger   *zap.Logger

	workers   int
	queueSize int
	queue     chan job
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func NewDispatcher(profiles ProfileSource, composer Composer, sender Sender, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		profiles:  profiles,
		composer:  composer,
		sender:    sender,
		timeout:   30 * time.Second,
		logger:    logger,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan job, d.queueSize)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify queues delivery of n without blocking. The caller's context only
// contributes its values; cancellation of the request does not cancel
// delivery.
func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	log := d.logger.With(zap.String("user_id", n.UserID.String()), zap.String("kind", n.Kind))
	if d.closed {
		log.Warn("notification dropped: dispatcher closed")
		return
	}
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
	default:
		log.Warn("notification dropped: queue full", zap.Int("queue_size", d.queueSize))
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
		d.deliver(ctx, j.n)
		cancel()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) {
	log := d.logger.With(zap.String("user_id", n.UserID.String()), zap.String("kind", n.Kind))

	profile, err := d.profiles.GetProfile(ctx, n.UserID)
	if err != nil {
		log.Warn("notification dropped: no profile", zap.Error(err))
		return
	}
	if profile.Email == "" {
		log.Debug("notification dropped: no email")
		return
	}

	msg := d.composer.Compose(ctx, *profile, n)
	err = d.sender.Send(ctx, Email{
		ToName:    profile.FullName,
		ToAddress: profile.Email,
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	if err != nil {
		log.Error("notification send failed", zap.Error(err))
		return
	}
	log.Debug("notification sent")
}
