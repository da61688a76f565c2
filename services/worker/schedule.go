package worker

import (
	"context"
	"errors"
	"fmt"

	"license-accrual/pkg/config"
	"license-accrual/pkg/task"
	"license-accrual/services/earning"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Entry is one periodic job.
type Entry struct {
	Name     string
	Cronspec string
	Task     *asynq.Task
	Opts     []asynq.Option
}

// Entries lists the periodic jobs. An empty cronspec disables a job.
func Entries(cfg *config.Config) []Entry {
	maxRetry := task.MaxRetry(cfg)
	all := []Entry{
		{
			Name:     "earnings_cycle",
			Cronspec: cfg.Earnings.Cron,
			Task:     earning.NewCycleTask(maxRetry),
			// one cycle at a time; a slow cycle swallows the next tick
			Opts: earning.CycleOptions(maxRetry),
		},
		{
			Name:     "queue_cleanup",
			Cronspec: cfg.Queue.CleanupCron,
			Task:     NewCleanupTask(),
		},
		{
			Name:     "order_expiry",
			Cronspec: cfg.Queue.ExpiryCron,
			Task:     NewExpiryTask(),
		},
	}

	out := all[:0]
	for _, e := range all {
		if e.Cronspec != "" {
			out = append(out, e)
		}
	}
	return out
}

// Registrar is the part of *asynq.Scheduler used to install entries.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

func RegisterEntries(r Registrar, entries []Entry) error {
	for _, e := range entries {
		id, err := r.Register(e.Cronspec, e.Task, e.Opts...)
		if err != nil {
			return fmt.Errorf("register %s (%q): %w", e.Name, e.Cronspec, err)
		}
		zap.L().Info("[Scheduler] periodic job registered",
			zap.String("name", e.Name),
			zap.String("cron", e.Cronspec),
			zap.String("entry_id", id),
		)
	}
	return nil
}

func NewScheduler(rdb *redis.Client, cfg *config.Config) *asynq.Scheduler {
	return asynq.NewSchedulerFromRedisClient(rdb, &asynq.SchedulerOpts{
		Logger:   zap.L().Named("asynq.scheduler").Sugar(),
		LogLevel: asynq.WarnLevel,
		Location: cfg.Location(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				zap.L().Debug("[Scheduler] previous run still queued", zap.Error(err))
				return
			}
			if err != nil {
				zap.L().Error("[Scheduler] periodic enqueue failed", zap.Error(err))
				return
			}
			zap.L().Debug("[Scheduler] periodic task enqueued",
				zap.String("task_type", info.Type),
				zap.String("queue", info.Queue),
			)
		},
	})
}

func runScheduler(lc fx.Lifecycle, s *asynq.Scheduler, cfg *config.Config) error {
	if err := RegisterEntries(s, Entries(cfg)); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			zap.L().Info("[Scheduler] started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Shutdown()
			return nil
		},
	})
	return nil
}
