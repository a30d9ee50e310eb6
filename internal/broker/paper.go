package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/logger"
)

// SnapshotSource supplies market snapshots for a universe of symbols.
type SnapshotSource interface {
	Snapshot(ctx context.Context, universe []string) ([]domain.Instrument, error)
}

// PaperBroker passes snapshots through from a real source and fills every
// order in full at the last price it saw for the symbol.
type PaperBroker struct {
	source SnapshotSource
	logger *logger.Logger

	mu     sync.RWMutex
	prices map[string]float64
}

func NewPaperBroker(source SnapshotSource, log *logger.Logger) *PaperBroker {
	return &PaperBroker{
		source: source,
		logger: log,
		prices: make(map[string]float64),
	}
}

func (p *PaperBroker) Snapshot(ctx context.Context, universe []string) ([]domain.Instrument, error) {
	insts, err := p.source.Snapshot(ctx, universe)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, inst := range insts {
		if inst.CurrentPrice > 0 {
			p.prices[inst.Symbol] = inst.CurrentPrice
		}
	}
	p.mu.Unlock()
	return insts, nil
}

// SetPrice overrides the last seen price for symbol.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperBroker) LastPrice(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	return price, ok
}

func (p *PaperBroker) SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	if qty <= 0 {
		return declined(fmt.Sprintf("quantity must be positive, got %f", qty)), nil
	}
	price, ok := p.LastPrice(symbol)
	if !ok || price <= 0 {
		return declined("no price seen for " + symbol), nil
	}

	id := uuid.New().String()
	p.logger.Debug("paper fill", "symbol", symbol, "side", side, "qty", qty, "price", price, "order_id", id)
	return OrderResult{
		Success:     true,
		OrderID:     id,
		FilledPrice: price,
		FilledQty:   qty,
	}, nil
}
