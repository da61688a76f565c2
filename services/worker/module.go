package worker

import (
	"license-accrual/services/order"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Module runs the queue workers, the periodic scheduler and the admin routes.
var Module = fx.Module("worker",
	fx.Provide(
		func(i *asynq.Inspector) Inspector { return i },
		func(s *order.Service) OrderLookup { return s },
		NewAdmin,
		NewMaintenance,
		NewPool,
		NewScheduler,
		NewHandler,
	),
	fx.Invoke(
		runPool,
		runScheduler,
		registerRoutes,
	),
)
