package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/db"
	"license-accrual/pkg/featureflags"
	"license-accrual/pkg/gen"
	"license-accrual/pkg/health"
	"license-accrual/pkg/httpapi"
	"license-accrual/pkg/logger"
	"license-accrual/pkg/otelcol"
	"license-accrual/pkg/profiling"
	"license-accrual/pkg/redis"
	"license-accrual/pkg/server"
	"license-accrual/pkg/task"
	"license-accrual/services/blockchain"
	"license-accrual/services/earning"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/notification"
	"license-accrual/services/order"
	"license-accrual/services/settings"
	"license-accrual/services/validation"
	"license-accrual/services/worker"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		featureflags.Module,
		task.Client,
		fx.Provide(clock.New),

		settings.Module,
		notification.Module,
		blockchain.Module,
		license.Module,
		ledger.Module,
		order.Module,
		earning.Module,
		validation.Module,
		worker.Module,

		health.Module,
		server.ProvideHTTPServer,
		httpapi.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
