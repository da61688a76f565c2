package worker

import (
	"context"
	"testing"
	"time"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/taskname"
	"license-accrual/services/order"
	"license-accrual/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceTaskTypes(t *testing.T) {
	require.Equal(t, taskname.QueueCleanup, NewCleanupTask().Type())
	require.Equal(t, taskname.OrderExpiry, NewExpiryTask().Type())
}

func TestHandleExpiryTask(t *testing.T) {
	h := newAdminHarness(t)

	conn := testutil.NewTestDB(t, &order.OrderDeposit{}, &order.AuditLog{})
	orders := order.NewService(order.ServiceParams{
		DB:     conn,
		Node:   testutil.NewNode(t),
		Config: &config.Config{},
		Clock:  clock.NewFakeClock(now),
	})
	require.NoError(t, conn.Create(&order.OrderDeposit{
		ID:        "o1",
		Amount:    decimal.NewFromInt(500),
		Status:    order.StatusPending,
		ExpiresAt: now.Add(-time.Minute),
	}).Error)

	m := NewMaintenance(MaintenanceParams{Admin: h.admin, Orders: orders})
	require.NoError(t, m.HandleExpiryTask(context.Background(), NewExpiryTask()))

	o, err := orders.Get(context.Background(), "o1")
	require.NoError(t, err)
	require.Equal(t, order.StatusExpired, o.Status)
}

func TestHandleCleanupTask(t *testing.T) {
	h := newAdminHarness(t)
	h.inspector.register(taskname.QueueValidation, asynq.QueueInfo{})
	h.inspector.archived[taskname.QueueValidation] = []*asynq.TaskInfo{
		{ID: "dead", LastFailedAt: now.Add(-48 * time.Hour)},
	}

	m := NewMaintenance(MaintenanceParams{Admin: h.admin})
	require.NoError(t, m.HandleCleanupTask(context.Background(), NewCleanupTask()))
	require.Equal(t, []string{"dead"}, h.inspector.deleted)
}
