package earning

import (
	"context"
	"time"

	"license-accrual/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CycleTimeout bounds one accrual cycle.
const CycleTimeout = 30 * time.Minute

// NewCycleTask builds the accrual job. The payload is empty: a cycle always
// looks at every active license.
func NewCycleTask(maxRetry int) *asynq.Task {
	return asynq.NewTask(taskname.EarningsCycle, nil, CycleOptions(maxRetry)...)
}

// CycleOptions are the enqueue options of every accrual cycle. Unique keeps a
// single cycle queued or running.
func CycleOptions(maxRetry int) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(taskname.QueueEarnings),
		asynq.Timeout(CycleTimeout),
		asynq.MaxRetry(maxRetry),
		asynq.Unique(CycleTimeout),
	}
}

// HandleCycleTask runs one cycle. Store failures are returned so the queue
// retries the whole cycle; already booked days are skipped on the rerun.
func (p *Processor) HandleCycleTask(ctx context.Context, t *asynq.Task) error {
	zapLog := zap.L().With(zap.String("task_type", t.Type()))
	if retry, ok := asynq.GetRetryCount(ctx); ok {
		zapLog = zapLog.With(zap.Int("retry", retry))
	}
	zapLog.Info("start earnings cycle task")

	res, err := p.RunDailyEarningsCycle(ctx)
	if err != nil {
		zapLog.Error("earnings cycle failed", zap.Error(err))
		return err
	}

	zapLog.Info("earnings cycle task done",
		zap.Int("processed", res.Processed),
		zap.Int("completed", res.Completed),
		zap.Int("total", res.Total),
	)
	return nil
}
