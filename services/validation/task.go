package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"license-accrual/pkg/config"
	"license-accrual/pkg/task"
	"license-accrual/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Payload struct {
	OrderID string `json:"order_id"`
}

const taskTimeout = 2 * time.Minute

func NewValidationTask(orderID string) (*asynq.Task, error) {
	b, err := json.Marshal(Payload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.OrderValidation, b,
		asynq.Queue(taskname.QueueValidation),
		asynq.Timeout(taskTimeout),
	), nil
}

// TaskInspector is the part of *asynq.Inspector the scheduler needs to free
// the id of a job that already ended.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Scheduler enqueues validation jobs. At most one job per order is
// outstanding: a second request while one is queued, scheduled or retrying
// is a no-op. An archived or completed job still holds the order's task id,
// so it is deleted and the job enqueued again.
type Scheduler struct {
	enqueuer  task.Enqueuer
	inspector TaskInspector
	maxRetry  int
}

type SchedulerParams struct {
	fx.In
	Enqueuer  task.Enqueuer
	Inspector TaskInspector `optional:"true"`
	Config    *config.Config
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		enqueuer:  p.Enqueuer,
		inspector: p.Inspector,
		maxRetry:  task.MaxRetry(p.Config),
	}
}

func (s *Scheduler) ScheduleValidation(ctx context.Context, orderID string, delay time.Duration) error {
	t, err := NewValidationTask(orderID)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(taskname.ValidationTaskID(orderID)),
		asynq.Queue(taskname.QueueValidation),
		asynq.MaxRetry(s.maxRetry),
		asynq.Timeout(taskTimeout),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	zapLog := zap.L().With(zap.String("order_id", orderID))

	info, err := s.enqueuer.Enqueue(ctx, t, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		released, rerr := s.releaseEnded(orderID)
		if rerr != nil {
			return rerr
		}
		if !released {
			zapLog.Info("validation already outstanding")
			return nil
		}
		info, err = s.enqueuer.Enqueue(ctx, t, opts...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			zapLog.Info("validation already outstanding")
			return nil
		}
	}
	if err != nil {
		return err
	}

	zapLog.Info("validation scheduled",
		zap.String("task_id", info.ID),
		zap.Duration("delay", delay),
	)
	return nil
}

// releaseEnded deletes the order's job when it is archived or completed and
// reports whether the task id is free again.
func (s *Scheduler) releaseEnded(orderID string) (bool, error) {
	if s.inspector == nil {
		return false, nil
	}

	id := taskname.ValidationTaskID(orderID)
	info, err := s.inspector.GetTaskInfo(taskname.QueueValidation, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect validation task: %w", err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}

	if err := s.inspector.DeleteTask(taskname.QueueValidation, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete ended validation task: %w", err)
	}
	zap.L().Info("ended validation task released",
		zap.String("order_id", orderID),
		zap.String("state", info.State.String()),
	)
	return true, nil
}

// HandleValidationTask runs one attempt. Bad payloads and orders that fail
// their preconditions are not retried.
func (p *Processor) HandleValidationTask(ctx context.Context, t *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	retry, _ := asynq.GetRetryCount(ctx)
	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("order_id", payload.OrderID),
		zap.Int("retry", retry),
	)
	zapLog.Info("start order validation task")

	err := p.ValidateOrder(ctx, payload.OrderID, retry)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrPrecondition) {
		zapLog.Error("order validation skipped", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		zapLog.Warn("order validation will be retried", zap.String("reason", retryErr.Reason))
	}
	return err
}
