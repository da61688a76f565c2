package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/config"
	"license-accrual/pkg/db"
	"license-accrual/pkg/db/option"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/repository"
	"license-accrual/services/blockchain"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("order.service",
	fx.Provide(NewService),
)

// ValidationScheduler queues the on-chain validation of a paid order.
type ValidationScheduler interface {
	ScheduleValidation(ctx context.Context, orderID string, delay time.Duration) error
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     clock.Clock
	scheduler ValidationScheduler
	delay     time.Duration

	orders repository.Repository[OrderDeposit]
	audits repository.Repository[AuditLog]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Clock     clock.Clock         `optional:"true"`
	Scheduler ValidationScheduler `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	var delay time.Duration
	if p.Config != nil {
		delay = p.Config.Queue.ValidationDelay
	}
	return &Service{
		db:        p.DB,
		node:      p.Node,
		clock:     c,
		scheduler: p.Scheduler,
		delay:     delay,
		orders:    repository.ProvideStore[OrderDeposit](p.DB),
		audits:    repository.ProvideStore[AuditLog](p.DB),
	}
}

// Repo exposes the order store bound to tx, for callers that already hold a
// transaction.
func (s *Service) Repo(tx *gorm.DB) repository.Repository[OrderDeposit] {
	return s.orders.WithTrx(tx)
}

func (s *Service) Get(ctx context.Context, id string) (*OrderDeposit, error) {
	o, err := s.orders.FindOne(ctx, &OrderDeposit{ID: id})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errutil.NotFound("order not found", nil)
	}
	return o, nil
}

// SubmitTransaction records the user's claimed tx hash, moves the order from
// pending to paid and queues its validation.
func (s *Service) SubmitTransaction(ctx context.Context, orderID, txHash string) error {
	zapLog := zap.L().With(zap.String("order_id", orderID), zap.String("tx_hash", txHash))

	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if !blockchain.ValidTxHash(txHash) {
		return errutil.BadRequest("invalid transaction hash", nil)
	}

	o, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if !CanTransition(o.Status, StatusPaid) {
		return errutil.UnprocessableEntity(fmt.Sprintf("order is %s", o.Status), nil)
	}

	now := s.clock.Now()
	if !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt) {
		return errutil.UnprocessableEntity("order has expired", nil)
	}

	n, err := s.orders.UpdateWhere(ctx,
		&OrderDeposit{ID: orderID, Status: StatusPending},
		map[string]any{"status": StatusPaid, "tx_hash": txHash, "paid_at": now},
	)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return errutil.Conflict("transaction hash already used by another order", err)
		}
		return err
	}
	if n == 0 {
		return errutil.Conflict("order changed concurrently", nil)
	}

	zapLog.Info("order marked paid")

	if s.scheduler == nil {
		return nil
	}
	if err := s.scheduler.ScheduleValidation(ctx, orderID, s.delay); err != nil {
		// the order stays paid; an operator can queue validation again
		zapLog.Error("failed to schedule order validation", zap.Error(err))
		return err
	}
	return nil
}

// ExpireStale moves every pending order past its expiry to expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	n, err := s.orders.UpdateWhere(ctx,
		&OrderDeposit{Status: StatusPending},
		map[string]any{"status": StatusExpired},
		option.WithWhere("expires_at < ?", now),
	)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zap.L().Info("expired stale orders", zap.Int64("count", n))
	}
	return n, nil
}

// Confirm moves a paid order to confirmed inside tx. It reports false when
// the order is no longer paid, which means another worker already handled it.
func (s *Service) Confirm(ctx context.Context, tx *gorm.DB, o *OrderDeposit, fields map[string]any) (bool, error) {
	payload, err := o.MergePayload(fields)
	if err != nil {
		return false, err
	}

	n, err := s.orders.WithTrx(tx).UpdateWhere(ctx,
		&OrderDeposit{ID: o.ID, Status: StatusPaid},
		map[string]any{
			"status":       StatusConfirmed,
			"confirmed_at": s.clock.Now(),
			"raw_payload":  payload,
		},
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Annotate merges fields into the raw payload of a paid order. Setting the
// same keys twice leaves the order unchanged.
func (s *Service) Annotate(ctx context.Context, tx *gorm.DB, o *OrderDeposit, fields map[string]any) (bool, error) {
	payload, err := o.MergePayload(fields)
	if err != nil {
		return false, err
	}

	n, err := s.orders.WithTrx(tx).UpdateWhere(ctx,
		&OrderDeposit{ID: o.ID, Status: StatusPaid},
		map[string]any{"raw_payload": payload},
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Service) Audit(ctx context.Context, tx *gorm.DB, action, entityID, actor string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return s.audits.WithTrx(tx).Create(ctx, &AuditLog{
		ID:         s.node.Generate().String(),
		CreatedAt:  s.clock.Now(),
		Actor:      actor,
		Action:     action,
		EntityType: "order",
		EntityID:   entityID,
		Payload:    datatypes.JSON(b),
	})
}

func (s *Service) AuditTrail(ctx context.Context, orderID string) ([]*AuditLog, error) {
	return s.audits.Find(ctx, &AuditLog{EntityType: "order", EntityID: orderID}, option.WithSortBy("created_at", false))
}
