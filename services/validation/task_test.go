package validation

import (
	"context"
	"testing"
	"time"

	"license-accrual/pkg/config"
	"license-accrual/pkg/task"
	"license-accrual/pkg/taskname"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newQueueScheduler(t *testing.T) (*Scheduler, *asynq.Inspector) {
	t.Helper()

	rdb := newRedisClient(t)
	inspector := asynq.NewInspectorFromRedisClient(rdb)
	s := NewScheduler(SchedulerParams{
		Enqueuer:  task.NewEnqueuer(asynq.NewClientFromRedisClient(rdb)),
		Inspector: inspector,
		Config:    &config.Config{},
	})
	return s, inspector
}

func TestScheduleValidationReplacesArchivedTask(t *testing.T) {
	s, inspector := newQueueScheduler(t)
	ctx := context.Background()
	id := taskname.ValidationTaskID("42")

	require.NoError(t, s.ScheduleValidation(ctx, "42", 0))
	require.NoError(t, inspector.ArchiveTask(taskname.QueueValidation, id))

	require.NoError(t, s.ScheduleValidation(ctx, "42", 0))

	info, err := inspector.GetTaskInfo(taskname.QueueValidation, id)
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStatePending, info.State)
	require.Equal(t, 3, info.MaxRetry)
}

func TestScheduleValidationKeepsOutstandingTask(t *testing.T) {
	s, inspector := newQueueScheduler(t)
	ctx := context.Background()
	id := taskname.ValidationTaskID("42")

	require.NoError(t, s.ScheduleValidation(ctx, "42", 5*time.Minute))
	require.NoError(t, s.ScheduleValidation(ctx, "42", 0))

	info, err := inspector.GetTaskInfo(taskname.QueueValidation, id)
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStateScheduled, info.State)
}

func TestValidationTaskCarriesQueue(t *testing.T) {
	client := asynq.NewClientFromRedisClient(newRedisClient(t))

	vt, err := NewValidationTask("7")
	require.NoError(t, err)

	info, err := client.Enqueue(vt)
	require.NoError(t, err)
	require.Equal(t, taskname.QueueValidation, info.Queue)
	require.Equal(t, taskTimeout, info.Timeout)
}
