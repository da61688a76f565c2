package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
)

type EnqueuedTask struct {
	Task *asynq.Task
	Opts map[asynq.OptionType]any
}

// FakeEnqueuer records tasks and, like the queue, rejects a second task with
// an id that is still outstanding.
type FakeEnqueuer struct {
	mu    sync.Mutex
	tasks []EnqueuedTask
	ids   map[string]bool
	Err   error
}

func (f *FakeEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	values := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		values[o.Type()] = o.Value()
	}

	id, _ := values[asynq.TaskIDOpt].(string)
	if id == "" {
		id = fmt.Sprintf("task-%d", len(f.tasks)+1)
	}
	if f.ids == nil {
		f.ids = map[string]bool{}
	}
	if f.ids[id] {
		return nil, fmt.Errorf("failed to enqueue task: %w", asynq.ErrTaskIDConflict)
	}
	f.ids[id] = true

	f.tasks = append(f.tasks, EnqueuedTask{Task: task, Opts: values})

	queue, _ := values[asynq.QueueOpt].(string)
	return &asynq.TaskInfo{ID: id, Queue: queue, Type: task.Type(), Payload: task.Payload()}, nil
}

func (f *FakeEnqueuer) Tasks() []EnqueuedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EnqueuedTask(nil), f.tasks...)
}

// Release forgets id, as if its task had finished.
func (f *FakeEnqueuer) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
}
