package earning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/db"
	"license-accrual/pkg/db/option"
	"license-accrual/pkg/repository"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/notification"
	"license-accrual/services/settings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("earning.processor",
	fx.Provide(NewProcessor),
)

const dayLength = 24 * time.Hour

// errRaceLost means another cycle booked the same day first.
var errRaceLost = errors.New("earning already booked by a concurrent cycle")

// Result summarises one accrual cycle. Total counts every active license the
// cycle looked at.
type Result struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

type Processor struct {
	db           *gorm.DB
	node         *snowflake.Node
	clock        clock.Clock
	loc          *time.Location
	cashbackDays int

	settings settings.Provider
	ledger   *ledger.Service
	notifier *notification.Notifier
	metrics  *Metrics

	licenses repository.Repository[license.License]
	earnings repository.Repository[license.DailyEarning]
}

type ProcessorParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Settings settings.Provider
	Ledger   *ledger.Service
	Notifier *notification.Notifier
	Clock    clock.Clock `optional:"true"`
	Metrics  *Metrics    `optional:"true"`
}

func NewProcessor(p ProcessorParams) *Processor {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	m := p.Metrics
	if m == nil {
		m = DefaultMetrics()
	}
	n := p.Notifier
	if n == nil {
		n = notification.NewNotifier(nil)
	}
	return &Processor{
		db:           p.DB,
		node:         p.Node,
		clock:        c,
		loc:          p.Config.Location(),
		cashbackDays: p.Config.Earnings.CashbackDays,
		settings:     p.Settings,
		ledger:       p.Ledger,
		notifier:     n,
		metrics:      m,
		licenses:     repository.ProvideStore[license.License](p.DB),
		earnings:     repository.ProvideStore[license.DailyEarning](p.DB),
	}
}

// RunDailyEarningsCycle books at most one new day of earnings for every
// active license. A failure on one license is logged and does not stop the
// others. Nothing happens while maintenance mode is on or automatic daily
// processing is off.
func (p *Processor) RunDailyEarningsCycle(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("earning").Start(ctx, "RunDailyEarningsCycle")
	defer span.End()

	start := time.Now()
	var res Result

	s, err := p.settings.GetSettings(ctx)
	if err != nil {
		p.metrics.observeCycle(cycleResultError, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("load settings: %w", err)
	}
	if s.MaintenanceMode || !s.AutomaticDailyEarningsProcessing {
		zap.L().Info("earnings cycle disabled",
			zap.Bool("maintenance_mode", s.MaintenanceMode),
			zap.Bool("automatic_processing", s.AutomaticDailyEarningsProcessing),
		)
		p.metrics.observeCycle(cycleResultDisabled, 0)
		return res, nil
	}

	active, err := p.licenses.Find(ctx, &license.License{Status: license.StatusActive}, option.WithSortBy("started_at", false))
	if err != nil {
		p.metrics.observeCycle(cycleResultError, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("list active licenses: %w", err)
	}

	now := p.clock.Now()
	res.Total = len(active)

	for _, lic := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		out, err := p.processLicense(ctx, lic, now)
		if err != nil {
			res.Failed++
			p.metrics.observeLicense(outcomeFailed)
			zap.L().Error("failed to process license earning",
				zap.String("license_id", lic.ID),
				zap.String("user_id", lic.UserID),
				zap.Error(err),
			)
			continue
		}

		if out.processed {
			res.Processed++
			p.metrics.observeLicense(outcomeProcessed)
		}
		if out.completed {
			res.Completed++
			p.metrics.observeLicense(outcomeCompleted)
		}
		if !out.processed && !out.completed {
			p.metrics.observeLicense(outcomeSkipped)
		}
	}

	span.SetAttributes(
		attribute.Int("licenses.total", res.Total),
		attribute.Int("licenses.processed", res.Processed),
		attribute.Int("licenses.completed", res.Completed),
		attribute.Int("licenses.failed", res.Failed),
	)
	p.metrics.observeCycle(cycleResultOK, time.Since(start).Seconds())

	zap.L().Info("earnings cycle finished",
		zap.Int("total", res.Total),
		zap.Int("processed", res.Processed),
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

type outcome struct {
	processed bool
	completed bool
}

// booking is what a committed day changed on the license.
type booking struct {
	earning   *license.DailyEarning
	total     decimal.Decimal
	completed bool
}

func (p *Processor) processLicense(ctx context.Context, lic *license.License, now time.Time) (outcome, error) {
	zapLog := zap.L().With(zap.String("license_id", lic.ID), zap.Int("days_generated", lic.DaysGenerated))

	if lic.LimitReached() {
		completed, err := p.complete(ctx, lic, now)
		if err != nil {
			return outcome{}, err
		}
		if completed {
			zapLog.Info("license completed")
			p.notifyCompleted(ctx, lic, lic.TotalEarned)
		}
		return outcome{completed: completed}, nil
	}

	if now.Sub(lic.StartedAt) < dayLength {
		return outcome{}, nil
	}

	day := lic.DaysGenerated + 1
	date := lic.EarningDate(day, p.loc)
	if date.After(now) {
		return outcome{}, nil
	}

	n, err := p.earnings.Count(ctx, &license.DailyEarning{LicenseID: lic.ID}, option.WithWhere("earning_date = ?", date))
	if err != nil {
		return outcome{}, err
	}
	if n > 0 {
		zapLog.Debug("earning already booked", zap.Time("earning_date", date))
		return outcome{}, nil
	}

	b, err := p.book(ctx, lic, day, date, now)
	if err != nil {
		if errors.Is(err, errRaceLost) {
			zapLog.Info("earning booked concurrently, skipping", zap.Int("day", day))
			return outcome{}, nil
		}
		return outcome{}, err
	}

	zapLog.Info("earning booked",
		zap.Int("day", day),
		zap.String("amount", b.earning.Amount().String()),
		zap.Bool("applied_to_balance", b.earning.AppliedToBalance),
		zap.Bool("completed", b.completed),
	)

	p.notifyProcessed(ctx, lic, b.earning)
	if b.completed {
		p.notifyCompleted(ctx, lic, b.total)
	}
	if !b.earning.AppliedToBalance {
		p.notifyPaused(ctx, lic, b.earning)
	}

	return outcome{processed: true, completed: b.completed}, nil
}

// complete flips an active license to completed. It reports false when the
// license was no longer active.
func (p *Processor) complete(ctx context.Context, lic *license.License, now time.Time) (bool, error) {
	n, err := p.licenses.UpdateWhere(ctx,
		&license.License{ID: lic.ID, Status: license.StatusActive},
		map[string]any{"status": license.StatusCompleted, "completed_at": now},
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// book writes the earning row, the license counters and, unless the license
// is paused, the ledger credit in one transaction.
func (p *Processor) book(ctx context.Context, lic *license.License, day int, date, now time.Time) (*booking, error) {
	amount := lic.DailyAmount()
	cashback, potential := decimal.Zero, decimal.Zero
	if day <= p.cashbackDays {
		cashback = amount
	} else {
		potential = amount
	}

	applied := !lic.PausePotential
	earning := &license.DailyEarning{
		ID:               p.node.Generate().String(),
		CreatedAt:        now,
		LicenseID:        lic.ID,
		UserID:           lic.UserID,
		DayIndex:         day,
		CashbackAmount:   cashback,
		PotentialAmount:  potential,
		AppliedToBalance: applied,
		EarningDate:      date,
	}
	if applied {
		appliedAt := now
		earning.AppliedAt = &appliedAt
	}

	cashbackAccum := lic.CashbackAccum.Add(cashback)
	potentialAccum := lic.PotentialAccum.Add(potential)
	total := cashbackAccum.Add(potentialAccum)
	completed := day >= lic.MaxDays || total.GreaterThanOrEqual(lic.CapAmount())

	updates := map[string]any{
		"days_generated":  day,
		"cashback_accum":  cashbackAccum,
		"potential_accum": potentialAccum,
		"total_earned":    total,
	}
	if completed {
		updates["status"] = license.StatusCompleted
		updates["completed_at"] = now
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.earnings.WithTrx(tx).Create(ctx, earning); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errRaceLost
			}
			return fmt.Errorf("insert daily earning: %w", err)
		}

		n, err := p.licenses.WithTrx(tx).UpdateWhere(ctx,
			&license.License{ID: lic.ID, Status: license.StatusActive},
			updates,
			option.WithWhere("days_generated = ?", lic.DaysGenerated),
		)
		if err != nil {
			return fmt.Errorf("update license counters: %w", err)
		}
		if n == 0 {
			return errRaceLost
		}

		if !applied {
			return nil
		}

		_, err = p.ledger.Append(ctx, tx, ledger.EntryRequest{
			UserID:        lic.UserID,
			Type:          ledger.EntryTypeCredit,
			Amount:        amount,
			TransactionID: ledger.EarningTransactionID(lic.ID, day),
			ReferenceType: ledger.ReferenceEarning,
			ReferenceID:   lic.ID,
			Description:   fmt.Sprintf("Daily earning day %d", day),
			Metadata: map[string]any{
				"daily_earning_id": earning.ID,
				"day_index":        day,
				"earning_date":     date.Format(time.DateOnly),
				"phase":            phase(cashback),
			},
		})
		if err != nil {
			return fmt.Errorf("append ledger credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &booking{earning: earning, total: total, completed: completed}, nil
}

func phase(cashback decimal.Decimal) string {
	if cashback.IsPositive() {
		return "cashback"
	}
	return "potential"
}

func (p *Processor) notifyProcessed(ctx context.Context, lic *license.License, e *license.DailyEarning) {
	p.notifier.SendToUser(ctx, lic.UserID, notification.Message{
		Type:     notification.TypeEarningProcessed,
		Title:    "Daily earning recorded",
		Message:  fmt.Sprintf("Day %d of %d: %s USDT", e.DayIndex, lic.MaxDays, e.Amount().String()),
		Severity: notification.SeveritySuccess,
		Metadata: map[string]any{
			"license_id":         lic.ID,
			"day_index":          e.DayIndex,
			"amount":             e.Amount().String(),
			"phase":              phase(e.CashbackAmount),
			"applied_to_balance": e.AppliedToBalance,
		},
	})
}

func (p *Processor) notifyCompleted(ctx context.Context, lic *license.License, total decimal.Decimal) {
	p.notifier.SendToUser(ctx, lic.UserID, notification.Message{
		Type:     notification.TypeLicenseCompleted,
		Title:    "License completed",
		Message:  fmt.Sprintf("Your license has finished accruing. Total earned: %s USDT", total.String()),
		Severity: notification.SeverityInfo,
		Metadata: map[string]any{
			"license_id":   lic.ID,
			"total_earned": total.String(),
		},
	})
}

func (p *Processor) notifyPaused(ctx context.Context, lic *license.License, e *license.DailyEarning) {
	p.notifier.SendToUser(ctx, lic.UserID, notification.Message{
		Type:     notification.TypeEarningPaused,
		Title:    "Earning not credited",
		Message:  fmt.Sprintf("Day %d was recorded but not credited because earnings are paused", e.DayIndex),
		Severity: notification.SeverityWarning,
		Metadata: map[string]any{
			"license_id": lic.ID,
			"day_index":  e.DayIndex,
		},
	})
}
