package task

import (
	"context"
	"time"

	"payhuk-core/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	hour    int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, hour: cfg.License.SweepHour}
}

// StartScheduler runs the daily loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go func() {
				defer close(s.done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started license expiry scheduler", zap.Int("hour_utc", s.hour))

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.hour, 0)

		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", next.Sub(now)),
		)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			if _, err := s.service.EnqueueLicenseSweep(ctx); err != nil {
				zap.L().Error("[Scheduler] failed to enqueue license sweep", zap.Error(err))
			}
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("[Scheduler] stopped")
			return
		}
	}
}

// nextRunTime returns the next occurrence of hour:minute strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
