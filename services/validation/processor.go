package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/repository"
	"license-accrual/pkg/task"
	"license-accrual/services/blockchain"
	"license-accrual/services/ledger"
	"license-accrual/services/license"
	"license-accrual/services/notification"
	"license-accrual/services/order"
	"license-accrual/services/settings"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("validation.processor",
	fx.Provide(
		NewProcessor,
		NewScheduler,
		func(i *asynq.Inspector) TaskInspector { return i },
		func(s *Scheduler) order.ValidationScheduler { return s },
	),
)

const auditActor = "system:validation"

// ErrPrecondition marks orders that can never be validated as they are. The
// job ends without a retry.
var ErrPrecondition = errors.New("order precondition failed")

// errAlreadyHandled means another worker moved the order first.
var errAlreadyHandled = errors.New("order already handled")

// RetryError asks the queue to run the validation again later.
type RetryError struct {
	OrderID string
	Attempt int
	Reason  string
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("order %s validation attempt %d: %s", e.OrderID, e.Attempt, e.Reason)
}

type Processor struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    clock.Clock
	maxRetry int

	settings  settings.Provider
	validator blockchain.Validator
	orders    *order.Service
	ledger    *ledger.Service
	notifier  *notification.Notifier
	metrics   *Metrics

	licenses repository.Repository[license.License]
}

type ProcessorParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Settings  settings.Provider
	Validator blockchain.Validator
	Orders    *order.Service
	Ledger    *ledger.Service
	Notifier  *notification.Notifier
	Clock     clock.Clock `optional:"true"`
	Metrics   *Metrics    `optional:"true"`
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
	maxRetry := task.MaxRetry(p.Config)
	return &Processor{
		db:        p.DB,
		node:      p.Node,
		clock:     c,
		maxRetry:  maxRetry,
		settings:  p.Settings,
		validator: p.Validator,
		orders:    p.Orders,
		ledger:    p.Ledger,
		notifier:  n,
		metrics:   m,
		licenses:  repository.ProvideStore[license.License](p.DB),
	}
}

// ValidateOrder checks the transaction claimed for a paid order and confirms
// it, flags it for manual handling, or returns a *RetryError when the failure
// looks transient and retryCount is below the retry limit.
func (p *Processor) ValidateOrder(ctx context.Context, orderID string, retryCount int) error {
	ctx, span := otel.Tracer("validation").Start(ctx, "ValidateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID), attribute.Int("retry", retryCount))

	start := time.Now()
	result, err := p.validateOrder(ctx, orderID, retryCount)
	if err != nil && result == "" {
		span.RecordError(err)
		return err
	}
	p.metrics.observe(result, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("result", result))
	return err
}

func (p *Processor) validateOrder(ctx context.Context, orderID string, retryCount int) (string, error) {
	zapLog := zap.L().With(zap.String("order_id", orderID), zap.Int("retry", retryCount))

	o, err := p.orders.Get(ctx, orderID)
	if err != nil {
		if errutil.StatusOf(err) == errutil.StatusNotFound {
			zapLog.Error("order not found")
			return resultPrecondition, fmt.Errorf("%w: order %s not found", ErrPrecondition, orderID)
		}
		return "", err
	}

	switch {
	case o.Status == order.StatusConfirmed:
		zapLog.Info("order already confirmed")
		return resultSkipped, nil
	case o.Status != order.StatusPaid:
		zapLog.Error("order is not paid", zap.String("status", o.Status.String()))
		return resultPrecondition, fmt.Errorf("%w: order %s is %s", ErrPrecondition, orderID, o.Status)
	case o.TxHash == nil || *o.TxHash == "":
		zapLog.Error("order has no transaction hash")
		return resultPrecondition, fmt.Errorf("%w: order %s has no transaction hash", ErrPrecondition, orderID)
	case o.DepositAddress == "":
		zapLog.Error("order has no deposit address")
		return resultPrecondition, fmt.Errorf("%w: order %s has no deposit address", ErrPrecondition, orderID)
	case o.InManualReview():
		zapLog.Info("order already in manual review")
		return resultSkipped, nil
	}

	s, err := p.settings.GetSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	zapLog = zapLog.With(zap.String("tx_hash", *o.TxHash))
	res := p.validator.ValidateTransfer(ctx, *o.TxHash, o.DepositAddress, o.Amount, s.ValidationTolerancePercent)

	if res.Valid {
		if !s.AutomaticOrderProcessing {
			if err := p.requireManualConfirmation(ctx, o, res, retryCount); err != nil {
				return "", err
			}
			zapLog.Info("order valid, waiting for manual confirmation")
			return resultManualConfirmation, nil
		}

		licenseID, err := p.confirm(ctx, o, s, res, retryCount)
		if err != nil {
			if errors.Is(err, errAlreadyHandled) {
				zapLog.Info("order confirmed concurrently")
				return resultSkipped, nil
			}
			return "", err
		}
		zapLog.Info("order confirmed", zap.String("license_id", licenseID))
		return resultConfirmed, nil
	}

	retryable := res.Retryable || IsRetryable(res.Error)
	if retryable && retryCount < p.maxRetry {
		zapLog.Warn("order validation failed, will retry", zap.String("reason", res.Error))
		return resultRetry, &RetryError{OrderID: orderID, Attempt: retryCount + 1, Reason: res.Error}
	}

	if err := p.manualReview(ctx, o, res, retryCount); err != nil {
		return "", err
	}
	zapLog.Warn("order sent to manual review", zap.String("reason", res.Error), zap.Bool("retries_exhausted", retryable))
	return resultManualReview, nil
}

func (p *Processor) summary(res blockchain.ValidationResult, retryCount int) map[string]any {
	out := map[string]any{
		"valid":         res.Valid,
		"recipient":     res.Recipient,
		"confirmations": res.Confirmations,
		"retryable":     res.Retryable,
		"attempt":       retryCount + 1,
		"checked_at":    p.clock.Now().Format(time.RFC3339),
	}
	if res.Amount != nil {
		out["amount"] = res.Amount.String()
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	return out
}

// confirm moves the order to confirmed and creates its license and the
// purchase debit in one transaction.
func (p *Processor) confirm(ctx context.Context, o *order.OrderDeposit, s settings.Settings, res blockchain.ValidationResult, retryCount int) (string, error) {
	now := p.clock.Now()
	lic := &license.License{
		ID:             p.node.Generate().String(),
		UserID:         o.UserID,
		OrderID:        o.ID,
		ProductID:      o.ProductID,
		Principal:      o.Amount,
		DailyRate:      s.DailyEarningRate,
		MaxDays:        s.MaxEarningDays,
		CapFraction:    s.EarningCapFraction,
		Status:         license.StatusActive,
		CashbackAccum:  decimal.Zero,
		PotentialAccum: decimal.Zero,
		TotalEarned:    decimal.Zero,
		StartedAt:      now,
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := p.orders.Confirm(ctx, tx, o, map[string]any{
			order.PayloadValidation: p.summary(res, retryCount),
			order.PayloadLicenseID:  lic.ID,
		})
		if err != nil {
			return fmt.Errorf("confirm order: %w", err)
		}
		if !ok {
			return errAlreadyHandled
		}

		if err := p.licenses.WithTrx(tx).Create(ctx, lic); err != nil {
			return fmt.Errorf("create license: %w", err)
		}

		if _, err := p.ledger.Append(ctx, tx, ledger.EntryRequest{
			UserID:        o.UserID,
			Type:          ledger.EntryTypeDebit,
			Amount:        o.Amount,
			TransactionID: ledger.OrderTransactionID(o.ID),
			ReferenceType: ledger.ReferenceOrder,
			ReferenceID:   o.ID,
			Description:   "License purchase",
			Metadata: map[string]any{
				"license_id": lic.ID,
				"product_id": o.ProductID,
				"tx_hash":    *o.TxHash,
			},
		}); err != nil {
			return fmt.Errorf("append purchase debit: %w", err)
		}

		return p.orders.Audit(ctx, tx, order.AuditOrderConfirmed, o.ID, auditActor, map[string]any{
			"tx_hash":       *o.TxHash,
			"license_id":    lic.ID,
			"amount":        o.Amount.String(),
			"confirmations": res.Confirmations,
		})
	})
	if err != nil {
		return "", err
	}

	p.notifier.SendToUser(ctx, o.UserID, notification.Message{
		Type:     notification.TypeOrderConfirmed,
		Title:    "Payment confirmed",
		Message:  fmt.Sprintf("Your payment of %s USDT was confirmed and your license is active", o.Amount.String()),
		Severity: notification.SeveritySuccess,
		Metadata: map[string]any{
			"order_id":   o.ID,
			"license_id": lic.ID,
		},
	})
	return lic.ID, nil
}

func (p *Processor) requireManualConfirmation(ctx context.Context, o *order.OrderDeposit, res blockchain.ValidationResult, retryCount int) error {
	if v, _ := o.Payload()[order.PayloadRequiresManualConfirmation].(bool); v {
		return nil
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.orders.Annotate(ctx, tx, o, map[string]any{
			order.PayloadRequiresManualConfirmation: true,
			order.PayloadValidation:                 p.summary(res, retryCount),
		}); err != nil {
			return err
		}
		return p.orders.Audit(ctx, tx, order.AuditOrderManualConfirmation, o.ID, auditActor, map[string]any{
			"tx_hash": *o.TxHash,
		})
	})
	if err != nil {
		return err
	}

	p.notifier.SendAdminAlert(ctx, notification.AlertManualConfirmation, map[string]any{
		"order_id": o.ID,
		"user_id":  o.UserID,
		"tx_hash":  *o.TxHash,
		"amount":   o.Amount.String(),
	})
	return nil
}

func (p *Processor) manualReview(ctx context.Context, o *order.OrderDeposit, res blockchain.ValidationResult, retryCount int) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.orders.Annotate(ctx, tx, o, map[string]any{
			order.PayloadManualReview:       true,
			order.PayloadManualReviewReason: res.Error,
			order.PayloadValidation:         p.summary(res, retryCount),
		}); err != nil {
			return err
		}
		return p.orders.Audit(ctx, tx, order.AuditOrderManualReview, o.ID, auditActor, map[string]any{
			"tx_hash": *o.TxHash,
			"reason":  res.Error,
			"attempt": retryCount + 1,
		})
	})
	if err != nil {
		return err
	}

	p.notifier.SendAdminAlert(ctx, notification.AlertManualReview, map[string]any{
		"order_id": o.ID,
		"user_id":  o.UserID,
		"tx_hash":  *o.TxHash,
		"reason":   res.Error,
		"attempts": retryCount + 1,
	})
	return nil
}
