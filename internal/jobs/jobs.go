// Package jobs runs the periodic maintenance work: expiring unused rewards
// and closing challenges whose window has ended.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type Maintainer interface {
	ExpireRewards(ctx context.Context) (int64, error)
	CloseEndedChallenges(ctx context.Context) (int64, error)
}

// Start schedules both maintenance jobs every interval, running them once
// right away. Callers stop the scheduler with Shutdown.
func Start(m Maintainer, interval time.Duration, logger *zap.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name string
		run  func(context.Context) (int64, error)
	}{
		{"expire_rewards", m.ExpireRewards},
		{"close_challenges", m.CloseEndedChallenges},
	}
	for _, j := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(runJob, j.name, j.run, interval, logger),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	sched.Start()
	return sched, nil
}

func runJob(name string, run func(context.Context) (int64, error), timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := run(ctx)
	if err != nil {
		logger.Error("maintenance job failed", zap.String("job", name), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("maintenance job", zap.String("job", name), zap.Int64("rows", n))
	}
}
