package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autopilot/internal/broker"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
)

type order struct {
	Symbol string
	Side   domain.Side
	Qty    float64
}

type fakeGateway struct {
	mu      sync.Mutex
	orders  []order
	prices  map[string]float64
	decline map[string]bool
	fail    error
	partial float64 // fraction of qty filled, 0 means all
}

func (g *fakeGateway) SubmitOrder(_ context.Context, symbol string, side domain.Side, qty float64) (broker.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, order{symbol, side, qty})
	if g.fail != nil {
		return broker.OrderResult{}, g.fail
	}
	if g.decline[symbol] {
		return broker.OrderResult{Message: "market closed"}, nil
	}
	filled := qty
	if g.partial > 0 {
		filled = qty * g.partial
	}
	return broker.OrderResult{Success: true, OrderID: "ord-" + symbol, FilledPrice: g.prices[symbol], FilledQty: filled}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return n.err
}

type fixture struct {
	exec     *Executor
	ledger   *ledger.Ledger
	gateway  *fakeGateway
	notifier *fakeNotifier
	events   <-chan events.Event
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), nil)
	_, _, err := l.Open(context.Background(), "acc", decimal.RequireFromString(balance))
	require.NoError(t, err)

	b := events.NewBroadcaster()
	ch, cancel := b.Subscribe(64)
	t.Cleanup(cancel)

	gw := &fakeGateway{prices: map[string]float64{"SBER": 10, "GAZP": 5}}
	n := &fakeNotifier{}
	return &fixture{
		exec:     NewExecutor(gw, l, b, n, metrics.New(), "paper", logger.Discard()),
		ledger:   l,
		gateway:  gw,
		notifier: n,
		events:   ch,
	}
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := f.ledger.Account(context.Background(), "acc")
	require.NoError(t, err)
	return acc.MainBalance
}

func drain(ch <-chan events.Event) []events.Type {
	var out []events.Type
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func TestExecuteBuy(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	trade, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "STRONG_BUY")
	require.NoError(t, err)
	f.exec.Wait()

	assert.Equal(t, "ord-SBER", trade.OrderID)
	assert.True(t, trade.Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(80)))
	assert.Equal(t, []order{{"SBER", domain.Buy, 2}}, f.gateway.orders)
	assert.Equal(t, []events.Type{events.TypeTrade, events.TypeBalance}, drain(f.events))
	require.Len(t, f.notifier.msgs, 1)
	assert.Contains(t, f.notifier.msgs[0], "BUY")
}

func TestExecuteBuyRejectedLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	f.gateway.decline = map[string]bool{"SBER": true}
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "BUY")
	require.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "market closed")

	f.gateway.decline = nil
	f.gateway.fail = errors.New("connection reset")
	_, err = f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "BUY")
	require.ErrorIs(t, err, ErrOrderRejected)

	f.exec.Wait()
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(100)))
	positions, err := f.ledger.Positions(ctx, "acc")
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Empty(t, drain(f.events))
	assert.Empty(t, f.notifier.msgs)
}

func TestExecuteBuyInsufficientBalanceSkipsGateway(t *testing.T) {
	f := newFixture(t, "15")

	_, err := f.exec.ExecuteBuy(context.Background(), "acc", "SBER", 20, 10, "BUY")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Empty(t, f.gateway.orders)
}

func TestExecuteBuyFilledAboveBudgetIsReported(t *testing.T) {
	f := newFixture(t, "20")
	f.gateway.prices["SBER"] = 11

	_, err := f.exec.ExecuteBuy(context.Background(), "acc", "SBER", 20, 10, "BUY")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	f.exec.Wait()

	assert.Len(t, f.gateway.orders, 1, "the order reached the broker")
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(20)))
	assert.Empty(t, drain(f.events))
	require.Len(t, f.notifier.msgs, 1)
	assert.Contains(t, f.notifier.msgs[0], "ledger BUY SBER")
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, "100")
	f.notifier.err = errors.New("telegram down")

	trade, err := f.exec.ExecuteBuy(context.Background(), "acc", "SBER", 20, 10, "BUY")
	require.NoError(t, err)
	f.exec.Wait()

	assert.NotEmpty(t, trade.ID)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(80)))
}

func TestExecuteSellRatio(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "BUY")
	require.NoError(t, err)

	f.gateway.prices["SBER"] = 15
	trade, err := f.exec.ExecuteSell(ctx, "acc", "SBER", 0.5, 15, "take profit")
	require.NoError(t, err)
	f.exec.Wait()

	assert.True(t, trade.Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(5)))

	acc, err := f.ledger.Account(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, acc.MainBalance.Equal(decimal.NewFromInt(90)))
	assert.True(t, acc.ProfitBalance.Equal(decimal.NewFromInt(5)))

	_, err = f.exec.ExecuteSell(ctx, "acc", "GAZP", 1, 5, "none held")
	assert.ErrorIs(t, err, ledger.ErrNoSuchPosition)
}

func TestExecuteSellRejectedLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "BUY")
	require.NoError(t, err)
	f.exec.Wait()
	drain(f.events)
	before, err := f.ledger.Account(ctx, "acc")
	require.NoError(t, err)

	f.gateway.decline = map[string]bool{"SBER": true}
	_, err = f.exec.ExecuteSell(ctx, "acc", "SBER", 1, 15, "take profit")
	require.ErrorIs(t, err, ErrOrderRejected)

	f.gateway.decline = nil
	f.gateway.fail = errors.New("connection reset")
	_, err = f.exec.ExecuteSell(ctx, "acc", "SBER", 0.5, 15, "take profit")
	require.ErrorIs(t, err, ErrOrderRejected)
	f.exec.Wait()

	after, err := f.ledger.Account(ctx, "acc")
	require.NoError(t, err)
	assert.True(t, after.MainBalance.Equal(before.MainBalance))
	assert.True(t, after.ProfitBalance.Equal(before.ProfitBalance))

	pos, ok, err := f.ledger.Position(ctx, "acc", "SBER")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(2)))

	trades, err := f.ledger.Trades(ctx, "acc", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Empty(t, drain(f.events))
	assert.Len(t, f.notifier.msgs, 1, "only the buy was announced")
}

func TestExecuteSellFullClosesPosition(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 30, 10, "BUY")
	require.NoError(t, err)

	_, err = f.exec.ExecuteSell(ctx, "acc", "SBER", 1, 10, "exit")
	require.NoError(t, err)
	f.exec.Wait()

	_, ok, err := f.ledger.Position(ctx, "acc", "SBER")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiquidateAll(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 20, 10, "BUY")
	require.NoError(t, err)
	_, err = f.exec.ExecuteBuy(ctx, "acc", "GAZP", 20, 5, "BUY")
	require.NoError(t, err)

	f.gateway.decline = map[string]bool{"GAZP": true}
	trades, err := f.exec.LiquidateAll(ctx, "acc", map[string]float64{"SBER": 10, "GAZP": 5}, "target reached")
	f.exec.Wait()

	require.ErrorIs(t, err, ErrOrderRejected)
	require.Len(t, trades, 1)
	assert.Equal(t, "SBER", trades[0].Symbol)

	positions, err := f.ledger.Positions(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "GAZP", positions[0].Symbol)
}

func TestLiquidateAllPartialFill(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()
	_, err := f.exec.ExecuteBuy(ctx, "acc", "SBER", 40, 10, "BUY")
	require.NoError(t, err)

	f.gateway.partial = 0.5
	trades, err := f.exec.LiquidateAll(ctx, "acc", map[string]float64{"SBER": 10}, "target reached")
	f.exec.Wait()
	require.NoError(t, err)
	require.Len(t, trades, 1)

	pos, ok, err := f.ledger.Position(ctx, "acc", "SBER")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(2)))
}
