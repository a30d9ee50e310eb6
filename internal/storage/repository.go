package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/ledger"
)

var _ ledger.Store = (*Repository)(nil)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Atomic(ctx context.Context, fn func(tx ledger.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// Accounts

func (r *Repository) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	var rec AccountRecord
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{ID: rec.ID, MainBalance: rec.MainBalance, ProfitBalance: rec.ProfitBalance}, nil
}

func (r *Repository) SaveAccount(ctx context.Context, acc domain.Account) error {
	rec := AccountRecord{ID: acc.ID, MainBalance: acc.MainBalance, ProfitBalance: acc.ProfitBalance}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"main_balance", "profit_balance", "updated_at"}),
	}).Create(&rec).Error
}

// Positions

func (r *Repository) GetPosition(ctx context.Context, accountID, symbol string) (domain.Position, bool, error) {
	var rec PositionRecord
	err := r.db.WithContext(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, err
	}
	return positionFromRecord(rec), true, nil
}

func (r *Repository) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	var recs []PositionRecord
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("symbol").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Position, len(recs))
	for i, rec := range recs {
		out[i] = positionFromRecord(rec)
	}
	return out, nil
}

func (r *Repository) UpsertPosition(ctx context.Context, pos domain.Position) error {
	rec := PositionRecord{
		AccountID:     pos.AccountID,
		Symbol:        pos.Symbol,
		Amount:        pos.Amount,
		AveragePrice:  pos.AveragePrice,
		TotalInvested: pos.TotalInvested,
		UpdatedAt:     pos.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "symbol"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (r *Repository) DeletePosition(ctx context.Context, accountID, symbol string) error {
	return r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Delete(&PositionRecord{}).Error
}

// Trades

func (r *Repository) InsertTrade(ctx context.Context, t domain.Trade) error {
	rec := TradeRecord{
		TradeID:     t.ID,
		AccountID:   t.AccountID,
		Symbol:      t.Symbol,
		Type:        string(t.Type),
		Amount:      t.Amount,
		Price:       t.Price,
		Total:       t.Total,
		PnL:         t.PnL,
		Reason:      t.Reason,
		IsAutomated: t.IsAutomated,
		OrderID:     t.OrderID,
		Timestamp:   t.Timestamp.UTC(),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *Repository) ListTrades(ctx context.Context, accountID string, limit int) ([]domain.Trade, error) {
	q := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []TradeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Trade, len(recs))
	for i, rec := range recs {
		out[i] = tradeFromRecord(rec)
	}
	return out, nil
}

// SumPnLSince adds sell pnl in Go; summing text columns in SQL would go through floats.
func (r *Repository) SumPnLSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var pnls []decimal.Decimal
	err := r.db.WithContext(ctx).Model(&TradeRecord{}).
		Where("account_id = ? AND type = ? AND timestamp >= ?", accountID, string(domain.Sell), since.UTC()).
		Pluck("pnl", &pnls).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, pnls...), nil
}

func positionFromRecord(rec PositionRecord) domain.Position {
	return domain.Position{
		AccountID:     rec.AccountID,
		Symbol:        rec.Symbol,
		Amount:        rec.Amount,
		AveragePrice:  rec.AveragePrice,
		TotalInvested: rec.TotalInvested,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func tradeFromRecord(rec TradeRecord) domain.Trade {
	return domain.Trade{
		ID:          rec.TradeID,
		AccountID:   rec.AccountID,
		Symbol:      rec.Symbol,
		Type:        domain.Side(rec.Type),
		Amount:      rec.Amount,
		Price:       rec.Price,
		Total:       rec.Total,
		PnL:         rec.PnL,
		Reason:      rec.Reason,
		IsAutomated: rec.IsAutomated,
		OrderID:     rec.OrderID,
		Timestamp:   rec.Timestamp,
	}
}
