package worker

import (
	"context"
	"time"

	"license-accrual/pkg/taskname"
	"license-accrual/services/order"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maintenanceTimeout = 5 * time.Minute

func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(taskname.QueueCleanup, nil,
		asynq.Queue(taskname.QueueMaintenance),
		asynq.Timeout(maintenanceTimeout),
		asynq.MaxRetry(1),
	)
}

func NewExpiryTask() *asynq.Task {
	return asynq.NewTask(taskname.OrderExpiry, nil,
		asynq.Queue(taskname.QueueMaintenance),
		asynq.Timeout(maintenanceTimeout),
		asynq.MaxRetry(1),
	)
}

// Maintenance holds the periodic housekeeping jobs.
type Maintenance struct {
	admin  *Admin
	orders *order.Service
}

type MaintenanceParams struct {
	fx.In
	Admin  *Admin
	Orders *order.Service
}

func NewMaintenance(p MaintenanceParams) *Maintenance {
	return &Maintenance{admin: p.Admin, orders: p.Orders}
}

func (m *Maintenance) HandleCleanupTask(ctx context.Context, t *asynq.Task) error {
	results, err := m.admin.CleanupAll(ctx)
	for _, r := range results {
		zap.L().Debug("cleanup result",
			zap.String("queue", r.Queue),
			zap.Int("completed", r.Completed),
			zap.Int("archived", r.Archived),
		)
	}
	if err != nil {
		zap.L().Error("queue cleanup failed", zap.String("task_type", t.Type()), zap.Error(err))
		return err
	}
	return nil
}

func (m *Maintenance) HandleExpiryTask(ctx context.Context, t *asynq.Task) error {
	if _, err := m.orders.ExpireStale(ctx); err != nil {
		zap.L().Error("order expiry failed", zap.String("task_type", t.Type()), zap.Error(err))
		return err
	}
	return nil
}
