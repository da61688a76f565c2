package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"license-accrual/pkg/config"
	"license-accrual/pkg/db"
	"license-accrual/pkg/logger"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/order"
	"license-accrual/services/settings"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(settings.NewService),
		fx.Invoke(migrate),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func migrate(gdb *gorm.DB, svc *settings.Service) error {
	if err := gdb.AutoMigrate(
		&license.License{},
		&license.DailyEarning{},
		&ledger.LedgerEntry{},
		&ledger.LedgerHead{},
		&order.OrderDeposit{},
		&order.AuditLog{},
		&settings.Record{},
	); err != nil {
		zap.L().Error("auto migrate failed", zap.Error(err))
		return err
	}

	if err := svc.Seed(context.Background()); err != nil {
		zap.L().Error("seed settings failed", zap.Error(err))
		return err
	}

	zap.L().Info("migration finished")
	return nil
}
