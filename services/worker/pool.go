package worker

import (
	"context"
	"errors"

	"license-accrual/pkg/config"
	"license-accrual/pkg/task"
	"license-accrual/pkg/taskname"
	"license-accrual/services/earning"
	"license-accrual/services/validation"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool runs one asynq server per queue. All servers share the same mux, so
// the queue a task lands on decides which concurrency limit applies.
type Pool struct {
	mux     *asynq.ServeMux
	servers map[string]*asynq.Server
}

type PoolParams struct {
	fx.In
	Redis       *redis.Client
	Config      *config.Config
	Earnings    *earning.Processor
	Validation  *validation.Processor
	Maintenance *Maintenance
}

func NewPool(p PoolParams) *Pool {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskname.EarningsCycle, p.Earnings.HandleCycleTask)
	mux.HandleFunc(taskname.OrderValidation, p.Validation.HandleValidationTask)
	mux.HandleFunc(taskname.QueueCleanup, p.Maintenance.HandleCleanupTask)
	mux.HandleFunc(taskname.OrderExpiry, p.Maintenance.HandleExpiryTask)

	queues := QueueConcurrency(p.Config)
	servers := make(map[string]*asynq.Server, len(queues))
	for queue, concurrency := range queues {
		servers[queue] = task.NewServer(p.Redis, p.Config, task.ServerOptions{
			Queue:       queue,
			Concurrency: concurrency,
		})
	}

	return &Pool{mux: mux, servers: servers}
}

// QueueConcurrency is the fixed worker count of every queue. Accrual stays at
// one worker unless configured otherwise so financial writes are serialized.
func QueueConcurrency(cfg *config.Config) map[string]int {
	accrual := cfg.Queue.AccrualConcurrency
	if accrual <= 0 {
		accrual = 1
	}
	validate := cfg.Queue.ValidationConcurrency
	if validate <= 0 {
		validate = 3
	}
	return map[string]int{
		taskname.QueueEarnings:    accrual,
		taskname.QueueValidation:  validate,
		taskname.QueueMaintenance: 1,
	}
}

func (p *Pool) Start() error {
	for queue, srv := range p.servers {
		if err := srv.Start(p.mux); err != nil {
			return errors.Join(err, p.Shutdown())
		}
		zap.L().Info("[Asynq] worker started", zap.String("queue", queue))
	}
	return nil
}

func (p *Pool) Shutdown() error {
	for queue, srv := range p.servers {
		srv.Shutdown()
		zap.L().Info("[Asynq] worker stopped", zap.String("queue", queue))
	}
	return nil
}

func runPool(lc fx.Lifecycle, p *Pool) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Start()
		},
		OnStop: func(ctx context.Context) error {
			return p.Shutdown()
		},
	})
}
