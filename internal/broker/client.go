package broker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

// TinkoffClient serves market snapshots and market orders through the T-Invest API.
type TinkoffClient struct {
	Client *investgo.Client
	Config *config.Config
	Logger *logger.Logger

	uids sync.Map // ticker -> instrument uid
	lots sync.Map // instrument uid -> lot size
}

func endpointFor(cfg *config.Config) string {
	if cfg.IsSandbox() {
		return sandboxEndpoint
	}
	return liveEndpoint
}

func NewTinkoffClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*TinkoffClient, error) {
	client, err := investgo.NewClient(ctx, investgo.Config{
		EndPoint:  endpointFor(cfg),
		Token:     cfg.Broker.Token,
		AccountId: cfg.Broker.AccountID,
		AppName:   "autopilot",
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	tc := &TinkoffClient{Client: client, Config: cfg, Logger: log}

	// a fresh sandbox account is funded with what the ledger accounts start with
	if cfg.IsSandbox() && cfg.Broker.AccountID == "" {
		if err := tc.fundSandbox(sandboxFunding(cfg.Accounts)); err != nil {
			_ = client.Stop()
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}
	return tc, nil
}

// sandboxFunding is the total initial balance of all accounts, in whole roubles.
func sandboxFunding(accounts []config.AccountConfig) int64 {
	var total float64
	for _, a := range accounts {
		total += a.InitialBalance
	}
	return int64(math.Ceil(total))
}

func (tc *TinkoffClient) fundSandbox(roubles int64) error {
	if roubles <= 0 {
		return nil
	}
	_, err := tc.Client.NewSandboxServiceClient().SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: tc.AccountID(),
		Currency:  "RUB",
		Unit:      roubles,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", err)
	}
	tc.Logger.Info("sandbox account funded", "account_id", tc.AccountID(), "rub", roubles)
	return nil
}

func (tc *TinkoffClient) AccountID() string {
	return tc.Client.Config.AccountId
}

func (tc *TinkoffClient) Stop() error {
	return tc.Client.Stop()
}
