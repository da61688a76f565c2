package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"license-accrual/pkg/clock"
	"license-accrual/pkg/db/option"
	"license-accrual/pkg/db/pagination"
	"license-accrual/pkg/errutil"
	"license-accrual/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	ledger repository.Repository[LedgerEntry]
	heads  repository.Repository[LedgerHead]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:     p.DB,
		node:   p.Node,
		clock:  c,
		ledger: repository.ProvideStore[LedgerEntry](p.DB),
		heads:  repository.ProvideStore[LedgerHead](p.DB),
	}
}

type EntryRequest struct {
	UserID        string
	Type          EntryType
	Amount        decimal.Decimal
	TransactionID string
	ReferenceType string
	ReferenceID   string
	Description   string
	Metadata      map[string]any
}

// Append writes one entry inside tx, chaining it to the user's previous entry.
// It never opens its own transaction: the entry commits or rolls back together
// with the caller's other writes.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, req EntryRequest) (*LedgerEntry, error) {
	if req.Type != EntryTypeCredit && req.Type != EntryTypeDebit {
		return nil, errutil.BadRequest("unsupported entry type", nil)
	}
	if !req.Amount.IsPositive() {
		return nil, errutil.BadRequest("amount must be positive", nil)
	}

	ledgerTx := s.ledger.WithTrx(tx)

	head, err := s.lockHead(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	previousHash := head.LastHash
	if head.LastEntryID == "" {
		// chains written before the head existed
		last, err := s.lastEntry(ctx, ledgerTx, req.UserID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			previousHash = last.Hash
		}
	}

	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger metadata: %w", err)
	}

	entry := NewLedgerEntry(LedgerParams{
		LedgerID:      s.node.Generate().String(),
		CreatedAt:     s.clock.Now(),
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
		PreviousHash:  previousHash,
		Metadata:      datatypes.JSON(meta),
	})
	entry.Hash = entry.GenerateHash()

	if err := ledgerTx.Create(ctx, entry); err != nil {
		zap.L().Error("failed to create ledger entry",
			zap.String("user_id", req.UserID),
			zap.String("transaction_id", req.TransactionID),
			zap.Error(err),
		)
		return nil, err
	}

	if _, err := s.heads.WithTrx(tx).UpdateWhere(ctx, &LedgerHead{UserID: req.UserID}, map[string]any{
		"last_entry_id": entry.ID,
		"last_hash":     entry.Hash,
		"updated_at":    entry.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("advance ledger head: %w", err)
	}

	return entry, nil
}

// lockHead creates the user's head row if needed and locks it for the rest of
// tx.
func (s *Service) lockHead(ctx context.Context, tx *gorm.DB, userID string) (*LedgerHead, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LedgerHead{UserID: userID, UpdatedAt: s.clock.Now()}).Error
	if err != nil {
		return nil, fmt.Errorf("create ledger head: %w", err)
	}

	head, err := s.heads.WithTrx(tx).FindOne(ctx, &LedgerHead{UserID: userID}, option.LockingUpdate)
	if err != nil {
		return nil, fmt.Errorf("lock ledger head: %w", err)
	}
	if head == nil {
		return nil, fmt.Errorf("lock ledger head: missing row for %s", userID)
	}
	return head, nil
}

func (s *Service) lastEntry(ctx context.Context, repo repository.Repository[LedgerEntry], userID string) (*LedgerEntry, error) {
	return repo.FindOne(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy("created_at", true),
		option.WithSortBy("id", true),
		option.LockingUpdate,
	)
}

// Entries returns a user's entries oldest first.
func (s *Service) Entries(ctx context.Context, userID string) ([]*LedgerEntry, error) {
	return s.ledger.Find(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy("created_at", false),
		option.WithSortBy("id", false),
	)
}

// EntriesPage lists a user's entries oldest first, resuming after the
// cursor of the previous page.
func (s *Service) EntriesPage(ctx context.Context, userID string, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	page = page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy("created_at", false),
		option.WithSortBy("id", false),
		option.WithLimit(page.Limit + 1),
	}
	if page.Cursor != "" {
		c, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithWhere("(created_at > ? OR (created_at = ? AND id > ?))", c.CreatedAt, c.CreatedAt, c.ID))
	}

	rows, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	return pagination.Page(rows, page.Limit, func(e *LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
}

// Balance is the sum of credits minus debits for a user.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	entries, err := s.Entries(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case EntryTypeCredit:
			balance = balance.Add(e.Amount)
		case EntryTypeDebit:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance, nil
}

// VerifyChain recomputes every hash of a user's chain and returns the id of
// the first entry that does not match, or "" when the chain is intact.
func (s *Service) VerifyChain(ctx context.Context, userID string) (string, error) {
	entries, err := s.Entries(ctx, userID)
	if err != nil {
		return "", err
	}

	previous := ""
	for _, e := range entries {
		if e.PreviousHash != previous || e.GenerateHash() != e.Hash {
			return e.ID, nil
		}
		previous = e.Hash
	}
	return "", nil
}
