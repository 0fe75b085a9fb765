package campaign

import (
	"context"
	"time"

	"incentive-controlplane/pkg/task"
	"incentive-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the overdue expiry task once a day.
type Scheduler struct {
	enqueuer task.Enqueuer
	hour     int
	minute   int
}

type SchedulerParams struct {
	fx.In

	Enqueuer task.Enqueuer `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{enqueuer: p.Enqueuer, hour: 1}
}

// StartScheduler is invoked by fx; it does nothing without an asynq client.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	if s.enqueuer == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started campaign expiry scheduler")

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.hour, s.minute)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)
		select {
		case <-time.After(next.Sub(now)):
			if err := s.enqueue(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue campaign expiry", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context) error {
	t := asynq.NewTask(taskname.CampaignExpireOverdue, nil)
	_, err := s.enqueuer.Enqueue(ctx, t, asynq.Queue("low"), asynq.Unique(time.Hour))
	return err
}

// nextRunTime returns the next occurrence of hour:minute strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
