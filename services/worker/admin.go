package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/task"
	"license-accrual/services/earning"
	"license-accrual/services/order"
	"license-accrual/services/validation"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Inspector is the part of *asynq.Inspector the admin operations use.
type Inspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	PauseQueue(queue string) error
	UnpauseQueue(queue string) error
	DeleteAllCompletedTasks(queue string) (int, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// OrderLookup loads an order for the manual validation trigger.
type OrderLookup interface {
	Get(ctx context.Context, id string) (*order.OrderDeposit, error)
}

const cleanupPageSize = 100

type QueueStats struct {
	Queue       string `json:"queue"`
	Concurrency int    `json:"concurrency"`
	Paused      bool   `json:"paused"`
	Size        int    `json:"size"`
	Pending     int    `json:"pending"`
	Active      int    `json:"active"`
	Scheduled   int    `json:"scheduled"`
	Retry       int    `json:"retry"`
	Archived    int    `json:"archived"`
	Completed   int    `json:"completed"`
	Processed   int    `json:"processed_today"`
	Failed      int    `json:"failed_today"`
	LatencyMs   int64  `json:"latency_ms"`
	MemoryUsage int64  `json:"memory_usage_bytes"`
}

type CleanupResult struct {
	Queue     string `json:"queue"`
	Completed int    `json:"completed"`
	Archived  int    `json:"archived"`
}

type Admin struct {
	inspector   Inspector
	enqueuer    task.Enqueuer
	validations *validation.Scheduler
	orders      OrderLookup
	clock       clock.Clock
	concurrency map[string]int
	retention   time.Duration
	maxRetry    int
}

type AdminParams struct {
	fx.In
	Inspector   Inspector
	Enqueuer    task.Enqueuer
	Validations *validation.Scheduler
	Orders      OrderLookup
	Config      *config.Config
	Clock       clock.Clock `optional:"true"`
}

func NewAdmin(p AdminParams) *Admin {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	retention := p.Config.Queue.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Admin{
		inspector:   p.Inspector,
		enqueuer:    p.Enqueuer,
		validations: p.Validations,
		orders:      p.Orders,
		clock:       c,
		concurrency: QueueConcurrency(p.Config),
		retention:   retention,
		maxRetry:    task.MaxRetry(p.Config),
	}
}

// QueueNames lists the queues this deployment serves, sorted.
func (a *Admin) QueueNames() []string {
	names := make([]string, 0, len(a.concurrency))
	for q := range a.concurrency {
		names = append(names, q)
	}
	slices.Sort(names)
	return names
}

func (a *Admin) checkQueue(queue string) error {
	if _, ok := a.concurrency[queue]; !ok {
		return errutil.NotFound("queue not found", nil,
			errutil.WithDetails(errutil.Detail{Field: "queue", Message: queue}))
	}
	return nil
}

// Stats reports backlog and history counters. A queue that has never seen a
// task is reported with zero counters.
func (a *Admin) Stats(ctx context.Context, queue string) (*QueueStats, error) {
	if err := a.checkQueue(queue); err != nil {
		return nil, err
	}

	stats := &QueueStats{Queue: queue, Concurrency: a.concurrency[queue]}

	known, err := a.inspector.Queues()
	if err != nil {
		return nil, errutil.ServiceUnavailable("queue backend unavailable", err)
	}
	if !slices.Contains(known, queue) {
		return stats, nil
	}

	info, err := a.inspector.GetQueueInfo(queue)
	if err != nil {
		return nil, errutil.ServiceUnavailable("queue backend unavailable", err)
	}

	stats.Paused = info.Paused
	stats.Size = info.Size
	stats.Pending = info.Pending
	stats.Active = info.Active
	stats.Scheduled = info.Scheduled
	stats.Retry = info.Retry
	stats.Archived = info.Archived
	stats.Completed = info.Completed
	stats.Processed = info.Processed
	stats.Failed = info.Failed
	stats.LatencyMs = info.Latency.Milliseconds()
	stats.MemoryUsage = info.MemoryUsage
	return stats, nil
}

func (a *Admin) AllStats(ctx context.Context) ([]*QueueStats, error) {
	out := make([]*QueueStats, 0, len(a.concurrency))
	for _, q := range a.QueueNames() {
		s, err := a.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Pause stops delivery from queue. Pausing a paused queue is a no-op.
func (a *Admin) Pause(ctx context.Context, queue string) error {
	s, err := a.Stats(ctx, queue)
	if err != nil {
		return err
	}
	if s.Paused {
		return nil
	}
	if err := a.inspector.PauseQueue(queue); err != nil {
		return errutil.ServiceUnavailable("failed to pause queue", err)
	}
	zap.L().Info("queue paused", zap.String("queue", queue))
	return nil
}

// Resume restarts delivery from queue. Resuming a running queue is a no-op.
func (a *Admin) Resume(ctx context.Context, queue string) error {
	s, err := a.Stats(ctx, queue)
	if err != nil {
		return err
	}
	if !s.Paused {
		return nil
	}
	if err := a.inspector.UnpauseQueue(queue); err != nil {
		return errutil.ServiceUnavailable("failed to resume queue", err)
	}
	zap.L().Info("queue resumed", zap.String("queue", queue))
	return nil
}

// Cleanup drops completed task history and archived (dead) tasks that
// failed longer ago than the retention window. Newer archived tasks stay
// for operator inspection.
func (a *Admin) Cleanup(ctx context.Context, queue string) (*CleanupResult, error) {
	if err := a.checkQueue(queue); err != nil {
		return nil, err
	}

	res := &CleanupResult{Queue: queue}

	known, err := a.inspector.Queues()
	if err != nil {
		return nil, errutil.ServiceUnavailable("queue backend unavailable", err)
	}
	if !slices.Contains(known, queue) {
		return res, nil
	}

	n, err := a.inspector.DeleteAllCompletedTasks(queue)
	if err != nil {
		return nil, errutil.ServiceUnavailable("failed to delete completed tasks", err)
	}
	res.Completed = n

	cutoff := a.clock.Now().Add(-a.retention)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// archived tasks are listed oldest first
		page, err := a.inspector.ListArchivedTasks(queue, asynq.PageSize(cleanupPageSize), asynq.Page(1))
		if err != nil {
			return res, errutil.ServiceUnavailable("failed to list archived tasks", err)
		}

		deleted := 0
		reachedRecent := false
		for _, t := range page {
			if !t.LastFailedAt.Before(cutoff) {
				reachedRecent = true
				break
			}
			if err := a.inspector.DeleteTask(queue, t.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
				return res, errutil.ServiceUnavailable("failed to delete archived task", err)
			}
			deleted++
		}
		res.Archived += deleted

		if reachedRecent || deleted == 0 || len(page) < cleanupPageSize {
			break
		}
	}

	zap.L().Info("queue history cleaned",
		zap.String("queue", queue),
		zap.Int("completed", res.Completed),
		zap.Int("archived", res.Archived),
	)
	return res, nil
}

func (a *Admin) CleanupAll(ctx context.Context) ([]*CleanupResult, error) {
	var errs []error
	out := make([]*CleanupResult, 0, len(a.concurrency))
	for _, q := range a.QueueNames() {
		res, err := a.Cleanup(ctx, q)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// TriggerEarningsCycle enqueues an accrual cycle now. A cycle that is already
// queued or running rejects the request.
func (a *Admin) TriggerEarningsCycle(ctx context.Context) (*asynq.TaskInfo, error) {
	info, err := a.enqueuer.Enqueue(ctx, earning.NewCycleTask(a.maxRetry), earning.CycleOptions(a.maxRetry)...)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, errutil.Conflict("earnings cycle already queued", err)
		}
		return nil, errutil.ServiceUnavailable("failed to enqueue earnings cycle", err)
	}
	zap.L().Info("earnings cycle triggered", zap.String("task_id", info.ID))
	return info, nil
}

// TriggerValidation queues validation for a paid order right away. A job
// already outstanding for the order makes this a no-op.
func (a *Admin) TriggerValidation(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errutil.BadRequest("order id is required", nil)
	}
	o, err := a.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusPaid {
		return errutil.UnprocessableEntity(fmt.Sprintf("order is %s", o.Status), nil)
	}
	if err := a.validations.ScheduleValidation(ctx, orderID, 0); err != nil {
		return errutil.ServiceUnavailable("failed to schedule validation", err)
	}
	return nil
}

var _ Inspector = (*asynq.Inspector)(nil)
