package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCanceled  Status = "canceled"
)

func (s Status) String() string {
	return string(s)
}

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusExpired, StatusCanceled},
	StatusPaid:    {StatusConfirmed, StatusCanceled},
}

// CanTransition reports whether from -> to is allowed. Statuses only move
// forward; confirmed, expired and canceled are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payload keys written into OrderDeposit.RawPayload.
const (
	PayloadRequiresManualConfirmation = "requires_manual_confirmation"
	PayloadManualReview               = "manual_review"
	PayloadManualReviewReason         = "manual_review_reason"
	PayloadValidation                 = "validation"
	PayloadLicenseID                  = "license_id"
)

type OrderDeposit struct {
	ID             string          `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	UserID         string          `gorm:"column:user_id;index"`
	ProductID      string          `gorm:"column:product_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(36,18)"`
	DepositAddress string          `gorm:"column:deposit_address"`
	Status         Status          `gorm:"column:status;index"`
	TxHash         *string         `gorm:"column:tx_hash;uniqueIndex"`
	ExpiresAt      time.Time       `gorm:"column:expires_at;index"`
	PaidAt         *time.Time      `gorm:"column:paid_at"`
	ConfirmedAt    *time.Time      `gorm:"column:confirmed_at"`
	RawPayload     datatypes.JSON  `gorm:"column:raw_payload"`
}

func (o *OrderDeposit) Payload() map[string]any {
	out := map[string]any{}
	if len(o.RawPayload) == 0 {
		return out
	}
	_ = json.Unmarshal(o.RawPayload, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// MergePayload returns RawPayload with fields set on top of the existing keys.
func (o *OrderDeposit) MergePayload(fields map[string]any) (datatypes.JSON, error) {
	payload := o.Payload()
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (o *OrderDeposit) InManualReview() bool {
	v, ok := o.Payload()[PayloadManualReview].(bool)
	return ok && v
}

type AuditLog struct {
	ID         string         `gorm:"column:id;primaryKey"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	Actor      string         `gorm:"column:actor"`
	Action     string         `gorm:"column:action;index"`
	EntityType string         `gorm:"column:entity_type;index:idx_audit_entity"`
	EntityID   string         `gorm:"column:entity_id;index:idx_audit_entity"`
	Payload    datatypes.JSON `gorm:"column:payload"`
}

const (
	AuditOrderConfirmed          = "order.confirmed"
	AuditOrderManualConfirmation = "order.manual_confirmation_required"
	AuditOrderManualReview       = "order.manual_review"
	AuditOrderExpired            = "order.expired"
)
