package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/autopilot/internal/broker"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/telegram"
)

// ErrOrderRejected means the gateway declined or failed the order; the ledger was not touched.
var ErrOrderRejected = errors.New("order rejected")

const notifyTimeout = 15 * time.Second

type OrderGateway interface {
	SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (broker.OrderResult, error)
}

type Publisher interface {
	Publish(t events.Type, accountID string, payload any)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Executor commits a ledger mutation only after the gateway confirms the order.
type Executor struct {
	gateway  OrderGateway
	ledger   *ledger.Ledger
	events   Publisher
	notifier Notifier
	metrics  *metrics.Metrics
	mode     string
	logger   *logger.Logger

	notifyWG sync.WaitGroup
}

func NewExecutor(
	gw OrderGateway,
	l *ledger.Ledger,
	pub Publisher,
	notifier Notifier,
	m *metrics.Metrics,
	mode string,
	log *logger.Logger,
) *Executor {
	return &Executor{
		gateway:  gw,
		ledger:   l,
		events:   pub,
		notifier: notifier,
		metrics:  m,
		mode:     mode,
		logger:   log,
	}
}

// ExecuteBuy spends up to invest on symbol at roughly price.
func (e *Executor) ExecuteBuy(ctx context.Context, accountID, symbol string, invest, price float64, reason string) (domain.Trade, error) {
	log := e.logger.ForAccount(accountID)
	if invest <= 0 || price <= 0 {
		return domain.Trade{}, fmt.Errorf("buy %s: %w", symbol, ledger.ErrInvalidAmount)
	}

	acc, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return domain.Trade{}, err
	}
	if acc.MainBalance.LessThan(decimal.NewFromFloat(invest)) {
		log.Info("BUY skipped: insufficient balance", "symbol", symbol,
			"invest", invest, "balance", acc.MainBalance.StringFixed(2))
		return domain.Trade{}, fmt.Errorf("buy %s: %w", symbol, ledger.ErrInsufficientBalance)
	}

	res, err := e.submit(ctx, symbol, domain.Buy, invest/price)
	if err != nil {
		log.Warn("BUY order rejected", "symbol", symbol, "error", err)
		return domain.Trade{}, err
	}

	qty, fillPrice := fill(res, invest/price, price)
	cost := qty.Mul(fillPrice)
	if budget := decimal.NewFromFloat(invest); cost.GreaterThan(budget) && cost.Sub(budget).LessThan(ledger.Epsilon) {
		cost = budget
	}

	trade, err := e.ledger.ApplyBuy(ctx, accountID, symbol, qty, fillPrice, cost, ledger.TradeMeta{
		Reason: reason, Automated: true, OrderID: res.OrderID,
	})
	if err != nil {
		log.Error("BUY filled but ledger rejected it", "symbol", symbol, "order_id", res.OrderID, "error", err)
		e.notify(ctx, telegram.FormatError("ledger BUY "+symbol, err))
		return domain.Trade{}, err
	}

	log.Info("BUY executed", "symbol", symbol, "qty", qty.String(), "price", fillPrice.String(), "cost", cost.StringFixed(2))
	e.recorded(ctx, trade)
	return trade, nil
}

// ExecuteSell sells ratio (0,1] of the held position.
func (e *Executor) ExecuteSell(ctx context.Context, accountID, symbol string, ratio, price float64, reason string) (domain.Trade, error) {
	log := e.logger.ForAccount(accountID)
	if ratio <= 0 || price <= 0 {
		return domain.Trade{}, fmt.Errorf("sell %s: %w", symbol, ledger.ErrInvalidAmount)
	}

	pos, ok, err := e.ledger.Position(ctx, accountID, symbol)
	if err != nil {
		return domain.Trade{}, err
	}
	if !ok {
		return domain.Trade{}, fmt.Errorf("sell %s: %w", symbol, ledger.ErrNoSuchPosition)
	}

	want := pos.Amount
	if ratio < 1 {
		want = pos.Amount.Mul(decimal.NewFromFloat(ratio))
	}

	res, err := e.submit(ctx, symbol, domain.Sell, want.InexactFloat64())
	if err != nil {
		log.Warn("SELL order rejected", "symbol", symbol, "error", err)
		return domain.Trade{}, err
	}

	qty, fillPrice := fill(res, want.InexactFloat64(), price)
	qty = clampToHeld(qty, want, pos.Amount)

	trade, err := e.ledger.ApplySell(ctx, accountID, symbol, qty, fillPrice, ledger.TradeMeta{
		Reason: reason, Automated: true, OrderID: res.OrderID,
	})
	if err != nil {
		log.Error("SELL filled but ledger rejected it", "symbol", symbol, "order_id", res.OrderID, "error", err)
		e.notify(ctx, telegram.FormatError("ledger SELL "+symbol, err))
		return domain.Trade{}, err
	}

	log.Info("SELL executed", "symbol", symbol, "qty", qty.String(), "price", fillPrice.String(), "pnl", trade.PnL.StringFixed(2))
	e.recorded(ctx, trade)
	return trade, nil
}

// LiquidateAll sells every open position. Positions whose order fails stay
// open and their errors are joined into the returned error.
func (e *Executor) LiquidateAll(ctx context.Context, accountID string, prices map[string]float64, reason string) ([]domain.Trade, error) {
	log := e.logger.ForAccount(accountID)

	positions, err := e.ledger.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var (
		full   = make(map[string]decimal.Decimal)
		trades []domain.Trade
		errs   []error
	)
	meta := ledger.TradeMeta{Reason: reason, Automated: true}

	for _, pos := range positions {
		amount := pos.Amount.InexactFloat64()
		res, err := e.submit(ctx, pos.Symbol, domain.Sell, amount)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		qty, fillPrice := fill(res, amount, prices[pos.Symbol])
		qty = clampToHeld(qty, pos.Amount, pos.Amount)
		if qty.Equal(pos.Amount) {
			full[pos.Symbol] = fillPrice
			continue
		}

		// partially filled: book what was sold, keep the rest
		m := meta
		m.OrderID = res.OrderID
		trade, err := e.ledger.ApplySell(ctx, accountID, pos.Symbol, qty, fillPrice, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		trades = append(trades, trade)
	}

	if len(full) > 0 {
		closed, err := e.ledger.LiquidateAll(ctx, accountID, full, meta)
		if err != nil {
			errs = append(errs, err)
		}
		trades = append(trades, closed...)
	}

	for _, t := range trades {
		e.recorded(ctx, t)
	}
	log.Info("liquidation finished", "positions", len(positions), "sold", len(trades), "failed", len(errs))
	return trades, errors.Join(errs...)
}

// Wait blocks until pending notifications finish.
func (e *Executor) Wait() {
	e.notifyWG.Wait()
}

func (e *Executor) submit(ctx context.Context, symbol string, side domain.Side, qty float64) (broker.OrderResult, error) {
	res, err := e.gateway.SubmitOrder(ctx, symbol, side, qty)
	if err != nil {
		e.metrics.Order(e.mode, string(side), false)
		return res, fmt.Errorf("%w: %s %s: %w", ErrOrderRejected, side, symbol, err)
	}
	if !res.Success {
		e.metrics.Order(e.mode, string(side), false)
		return res, fmt.Errorf("%w: %s %s: %s", ErrOrderRejected, side, symbol, res.Message)
	}
	e.metrics.Order(e.mode, string(side), true)
	return res, nil
}

// recorded fans a committed trade out to subscribers and the notification channel.
func (e *Executor) recorded(ctx context.Context, trade domain.Trade) {
	e.metrics.Trade(string(trade.Type), trade.PnL.InexactFloat64())
	e.events.Publish(events.TypeTrade, trade.AccountID, trade)
	if acc, err := e.ledger.Account(ctx, trade.AccountID); err == nil {
		e.events.Publish(events.TypeBalance, trade.AccountID, acc)
	}
	e.notify(ctx, telegram.FormatTrade(trade))
}

// notify delivers in the background; failures are logged and dropped.
func (e *Executor) notify(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(nctx, text); err != nil {
			e.metrics.NotificationFailed()
			e.logger.Warn("notification failed", "error", err)
		}
	}()
}

// fill returns the executed quantity and price, falling back to the requested values.
func fill(res broker.OrderResult, qty, price float64) (decimal.Decimal, decimal.Decimal) {
	if res.FilledQty > 0 {
		qty = res.FilledQty
	}
	if res.FilledPrice > 0 {
		price = res.FilledPrice
	}
	return decimal.NewFromFloat(qty), decimal.NewFromFloat(price)
}

// clampToHeld maps a float round-trip of want back onto the exact decimal and
// never lets qty exceed the held amount.
func clampToHeld(qty, want, held decimal.Decimal) decimal.Decimal {
	if qty.Sub(want).Abs().LessThan(ledger.Epsilon) {
		qty = want
	}
	if qty.GreaterThan(held) {
		qty = held
	}
	return qty
}
