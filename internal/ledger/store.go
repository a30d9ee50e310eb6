package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/autopilot/internal/domain"
)

// Store is the durable read/write contract the ledger is defined against.
// GetAccount returns ErrAccountNotFound for unknown accounts.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	SaveAccount(ctx context.Context, acc domain.Account) error

	GetPosition(ctx context.Context, accountID, symbol string) (domain.Position, bool, error)
	ListPositions(ctx context.Context, accountID string) ([]domain.Position, error)
	UpsertPosition(ctx context.Context, pos domain.Position) error
	DeletePosition(ctx context.Context, accountID, symbol string) error

	// InsertTrade appends to the history; trades are never updated.
	InsertTrade(ctx context.Context, trade domain.Trade) error
	// ListTrades returns newest first; limit <= 0 means all.
	ListTrades(ctx context.Context, accountID string, limit int) ([]domain.Trade, error)
	SumPnLSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)

	// Atomic runs fn in a transaction; any error discards all writes made by fn.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
