package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/logger"
)

// Epsilon is the remaining amount below which a position counts as closed.
var Epsilon = decimal.New(1, -6)

// TradeMeta carries the descriptive fields of a trade record.
type TradeMeta struct {
	Reason    string
	Automated bool
	OrderID   string
}

// Valuation is an account's value at a set of market prices.
type Valuation struct {
	Account        domain.Account    `json:"account"`
	Positions      []domain.Position `json:"positions"`
	PositionsValue decimal.Decimal   `json:"positions_value"`
	Total          decimal.Decimal   `json:"total"`
}

// Ledger applies balance and position mutations. Operations on one account
// are serialized; different accounts proceed independently.
type Ledger struct {
	store Store
	log   *logger.Logger
	locks sync.Map // account id -> *sync.Mutex
	now   func() time.Time
	newID func() string
}

func New(store Store, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Discard()
	}
	return &Ledger{
		store: store,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func (l *Ledger) lock(accountID string) func() {
	v, _ := l.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Open returns the account, creating it with the initial balance if it does not exist.
func (l *Ledger) Open(ctx context.Context, accountID string, initial decimal.Decimal) (domain.Account, bool, error) {
	if initial.IsNegative() {
		return domain.Account{}, false, opErr("open", accountID, "", ErrInvalidAmount)
	}
	unlock := l.lock(accountID)
	defer unlock()

	acc, err := l.store.GetAccount(ctx, accountID)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return domain.Account{}, false, opErr("open", accountID, "", err)
	}

	acc = domain.Account{ID: accountID, MainBalance: initial, ProfitBalance: decimal.Zero}
	if err := l.store.SaveAccount(ctx, acc); err != nil {
		return domain.Account{}, false, opErr("open", accountID, "", err)
	}
	l.log.Info("account opened", "account", accountID, "balance", initial.StringFixed(2))
	return acc, true, nil
}

func (l *Ledger) Account(ctx context.Context, accountID string) (domain.Account, error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, opErr("account", accountID, "", err)
	}
	return acc, nil
}

func (l *Ledger) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	return l.store.ListPositions(ctx, accountID)
}

func (l *Ledger) Position(ctx context.Context, accountID, symbol string) (domain.Position, bool, error) {
	return l.store.GetPosition(ctx, accountID, symbol)
}

func (l *Ledger) Trades(ctx context.Context, accountID string, limit int) ([]domain.Trade, error) {
	return l.store.ListTrades(ctx, accountID, limit)
}

// RealizedPnLSince sums the pnl of sells recorded at or after since.
func (l *Ledger) RealizedPnLSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	return l.store.SumPnLSince(ctx, accountID, since)
}

// ApplyBuy debits invest from the main balance and adds qty at price to the position.
func (l *Ledger) ApplyBuy(ctx context.Context, accountID, symbol string, qty, price, invest decimal.Decimal, meta TradeMeta) (domain.Trade, error) {
	if !qty.IsPositive() || !price.IsPositive() || !invest.IsPositive() {
		return domain.Trade{}, opErr("buy", accountID, symbol, ErrInvalidAmount)
	}
	unlock := l.lock(accountID)
	defer unlock()

	var trade domain.Trade
	err := l.store.Atomic(ctx, func(tx Store) error {
		var err error
		trade, err = l.buy(ctx, tx, accountID, symbol, qty, price, invest, meta)
		return err
	})
	if err != nil {
		return domain.Trade{}, opErr("buy", accountID, symbol, err)
	}
	l.log.Debug("buy applied", "account", accountID, "symbol", symbol,
		"qty", qty.String(), "price", price.String(), "invest", invest.StringFixed(2))
	return trade, nil
}

// ApplySell removes qty from the position at price and credits the balances.
func (l *Ledger) ApplySell(ctx context.Context, accountID, symbol string, qty, price decimal.Decimal, meta TradeMeta) (domain.Trade, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return domain.Trade{}, opErr("sell", accountID, symbol, ErrInvalidAmount)
	}
	unlock := l.lock(accountID)
	defer unlock()

	var trade domain.Trade
	err := l.store.Atomic(ctx, func(tx Store) error {
		var err error
		trade, err = l.sell(ctx, tx, accountID, symbol, qty, price, meta)
		return err
	})
	if err != nil {
		return domain.Trade{}, opErr("sell", accountID, symbol, err)
	}
	l.log.Debug("sell applied", "account", accountID, "symbol", symbol,
		"qty", qty.String(), "price", price.String(), "pnl", trade.PnL.StringFixed(2))
	return trade, nil
}

// LiquidateAll closes every position that has a price in prices, in one transaction.
// Positions without a price are left open.
func (l *Ledger) LiquidateAll(ctx context.Context, accountID string, prices map[string]decimal.Decimal, meta TradeMeta) ([]domain.Trade, error) {
	unlock := l.lock(accountID)
	defer unlock()

	var trades []domain.Trade
	err := l.store.Atomic(ctx, func(tx Store) error {
		trades = trades[:0]
		positions, err := tx.ListPositions(ctx, accountID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			price, ok := prices[pos.Symbol]
			if !ok || !price.IsPositive() {
				continue
			}
			trade, err := l.sell(ctx, tx, accountID, pos.Symbol, pos.Amount, price, meta)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		return nil
	})
	if err != nil {
		return nil, opErr("liquidate", accountID, "", err)
	}
	l.log.Info("positions liquidated", "account", accountID, "count", len(trades))
	return trades, nil
}

// Valuation prices positions at prices; a position without a price is valued at cost.
func (l *Ledger) Valuation(ctx context.Context, accountID string, prices map[string]float64) (Valuation, error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Valuation{}, opErr("valuation", accountID, "", err)
	}
	positions, err := l.store.ListPositions(ctx, accountID)
	if err != nil {
		return Valuation{}, opErr("valuation", accountID, "", err)
	}

	value := decimal.Zero
	for _, p := range positions {
		if price, ok := prices[p.Symbol]; ok && price > 0 {
			value = value.Add(p.MarketValue(price))
		} else {
			value = value.Add(p.TotalInvested)
		}
	}
	return Valuation{
		Account:        acc,
		Positions:      positions,
		PositionsValue: value,
		Total:          acc.MainBalance.Add(acc.ProfitBalance).Add(value),
	}, nil
}

func (l *Ledger) buy(ctx context.Context, tx Store, accountID, symbol string, qty, price, invest decimal.Decimal, meta TradeMeta) (domain.Trade, error) {
	acc, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Trade{}, err
	}
	if acc.MainBalance.LessThan(invest) {
		return domain.Trade{}, ErrInsufficientBalance
	}

	pos, ok, err := tx.GetPosition(ctx, accountID, symbol)
	if err != nil {
		return domain.Trade{}, err
	}
	if !ok {
		pos = domain.Position{AccountID: accountID, Symbol: symbol}
	}

	now := l.now()
	cost := qty.Mul(price)
	pos.Amount = pos.Amount.Add(qty)
	pos.TotalInvested = pos.TotalInvested.Add(cost)
	pos.AveragePrice = pos.TotalInvested.Div(pos.Amount)
	pos.UpdatedAt = now

	acc.MainBalance = acc.MainBalance.Sub(invest)

	trade := domain.Trade{
		ID:          l.newID(),
		AccountID:   accountID,
		Symbol:      symbol,
		Type:        domain.Buy,
		Amount:      qty,
		Price:       price,
		Total:       cost,
		PnL:         decimal.Zero,
		Reason:      meta.Reason,
		IsAutomated: meta.Automated,
		OrderID:     meta.OrderID,
		Timestamp:   now,
	}

	if err := tx.SaveAccount(ctx, acc); err != nil {
		return domain.Trade{}, err
	}
	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return domain.Trade{}, err
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return domain.Trade{}, err
	}
	return trade, nil
}

func (l *Ledger) sell(ctx context.Context, tx Store, accountID, symbol string, qty, price decimal.Decimal, meta TradeMeta) (domain.Trade, error) {
	pos, ok, err := tx.GetPosition(ctx, accountID, symbol)
	if err != nil {
		return domain.Trade{}, err
	}
	if !ok || !pos.Amount.IsPositive() {
		return domain.Trade{}, ErrNoSuchPosition
	}
	if qty.GreaterThan(pos.Amount) {
		return domain.Trade{}, ErrOversizedSell
	}
	acc, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Trade{}, err
	}

	proceeds := qty.Mul(price)
	costBasis := pos.TotalInvested.Mul(qty).Div(pos.Amount)
	if qty.Equal(pos.Amount) {
		costBasis = pos.TotalInvested
	}

	if proceeds.GreaterThan(costBasis) {
		acc.MainBalance = acc.MainBalance.Add(costBasis)
		acc.ProfitBalance = acc.ProfitBalance.Add(proceeds.Sub(costBasis))
	} else {
		acc.MainBalance = acc.MainBalance.Add(proceeds)
	}

	now := l.now()
	trade := domain.Trade{
		ID:          l.newID(),
		AccountID:   accountID,
		Symbol:      symbol,
		Type:        domain.Sell,
		Amount:      qty,
		Price:       price,
		Total:       proceeds,
		PnL:         price.Sub(pos.AveragePrice).Mul(qty),
		Reason:      meta.Reason,
		IsAutomated: meta.Automated,
		OrderID:     meta.OrderID,
		Timestamp:   now,
	}

	remaining := pos.Amount.Sub(qty)
	if remaining.LessThan(Epsilon) {
		err = tx.DeletePosition(ctx, accountID, symbol)
	} else {
		pos.Amount = remaining
		pos.TotalInvested = pos.TotalInvested.Sub(costBasis)
		pos.UpdatedAt = now
		err = tx.UpsertPosition(ctx, pos)
	}
	if err != nil {
		return domain.Trade{}, err
	}
	if err := tx.SaveAccount(ctx, acc); err != nil {
		return domain.Trade{}, err
	}
	if err := tx.InsertTrade(ctx, trade); err != nil {
		return domain.Trade{}, err
	}
	return trade, nil
}
