package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryTypeCredit EntryType = "CREDIT"
	EntryTypeDebit  EntryType = "DEBIT"
)

func (t EntryType) String() string {
	return string(t)
}

const (
	ReferenceEarning = "earning"
	ReferenceOrder   = "order"
)

// LedgerEntry is append-only. Entries of one user form a hash chain through
// PreviousHash so that an edited row breaks every hash after it.
type LedgerEntry struct {
	ID            string          `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time       `gorm:"column:created_at;index"`
	UserID        string          `gorm:"column:user_id;index"`
	Type          EntryType       `gorm:"column:type"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(36,18)"`
	TransactionID string          `gorm:"column:transaction_id;uniqueIndex"`
	ReferenceType string          `gorm:"column:reference_type;index:idx_ledger_reference"`
	ReferenceID   string          `gorm:"column:reference_id;index:idx_ledger_reference"`
	Description   string          `gorm:"column:description"`
	PreviousHash  string          `gorm:"column:previous_hash"`
	Hash          string          `gorm:"column:hash"`
	Metadata      datatypes.JSON  `gorm:"column:metadata"`
}

// LedgerHead anchors a user's chain. Appends lock it before reading the tip,
// so two first entries of the same user cannot both chain from "".
type LedgerHead struct {
	UserID      string    `gorm:"column:user_id;primaryKey"`
	LastEntryID string    `gorm:"column:last_entry_id"`
	LastHash    string    `gorm:"column:last_hash"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

type LedgerParams struct {
	LedgerID      string
	CreatedAt     time.Time
	UserID        string
	Type          EntryType
	Amount        decimal.Decimal
	TransactionID string
	ReferenceType string
	ReferenceID   string
	Description   string
	PreviousHash  string
	Metadata      datatypes.JSON
}

func NewLedgerEntry(p LedgerParams) *LedgerEntry {
	return &LedgerEntry{
		ID:            p.LedgerID,
		CreatedAt:     p.CreatedAt.UTC().Truncate(time.Microsecond),
		UserID:        p.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		ReferenceType: p.ReferenceType,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  p.PreviousHash,
		Metadata:      p.Metadata,
	}
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"user_id":        m.UserID,
		"type":           m.Type.String(),
		"amount":         m.Amount.String(),
		"transaction_id": m.TransactionID,
		"reference_type": m.ReferenceType,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// EarningTransactionID is the ledger idempotency key for one accrued day.
func EarningTransactionID(licenseID string, dayIndex int) string {
	return fmt.Sprintf("%s:%s:%d", ReferenceEarning, licenseID, dayIndex)
}

// OrderTransactionID is the ledger idempotency key for an order purchase.
func OrderTransactionID(orderID string) string {
	return fmt.Sprintf("%s:%s", ReferenceOrder, orderID)
}
