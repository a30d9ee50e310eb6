package broker

import (
	"context"
	"fmt"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/moex"
)

// Gateway submits market orders.
type Gateway interface {
	SubmitOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (OrderResult, error)
}

// Stack is the market data source and order route picked by configuration.
// Snapshots always pass through Prices so the last seen price of every
// symbol is available to the API and to paper fills.
type Stack struct {
	Prices  *PaperBroker
	Gateway Gateway
	// Tinkoff is nil unless the market source or broker mode needs it.
	Tinkoff *TinkoffClient
}

func OpenStack(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stack, error) {
	st := &Stack{}
	if cfg.Market.Source == config.SourceTinkoff || !cfg.IsPaper() {
		tc, err := NewTinkoffClient(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("tinkoff client: %w", err)
		}
		st.Tinkoff = tc
		log.Info("broker connected", "account_id", tc.AccountID(), "mode", cfg.Broker.Mode)
	}

	var source SnapshotSource = moex.NewClient(cfg.Market.TopN, log)
	if cfg.Market.Source == config.SourceTinkoff {
		source = st.Tinkoff
	}
	st.Prices = NewPaperBroker(source, log)

	st.Gateway = st.Prices
	if !cfg.IsPaper() {
		st.Gateway = st.Tinkoff
	}
	return st, nil
}

func (s *Stack) Close() error {
	if s.Tinkoff == nil {
		return nil
	}
	return s.Tinkoff.Stop()
}
