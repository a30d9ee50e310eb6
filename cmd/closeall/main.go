package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/camuig/autopilot/internal/broker"
	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/executor"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/storage"
	"github.com/camuig/autopilot/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	accountID := flag.String("account", "", "ledger account to liquidate")
	brokerSide := flag.Bool("broker", false, "flatten every holding on the broker account instead of a ledger account")
	dryRun := flag.Bool("dry-run", false, "show positions without closing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *accountID == "" && !*brokerSide {
		fmt.Fprintln(os.Stderr, "either -account or -broker is required")
		os.Exit(2)
	}

	log := logger.New(cfg.Logging.Level)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stack, err := broker.OpenStack(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "broker init error: %v\n", err)
		os.Exit(1)
	}
	defer stack.Close()

	var failed int
	if *brokerSide {
		failed = flattenBroker(ctx, stack, *dryRun)
	} else {
		failed = liquidateAccount(ctx, cfg, stack, log, *accountID, *dryRun)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// liquidateAccount sells the ledger positions of one account through the
// executor and disables its strategy.
func liquidateAccount(ctx context.Context, cfg *config.Config, stack *broker.Stack, log *logger.Logger, accountID string, dryRun bool) int {
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		return 1
	}
	repo := storage.NewRepository(db)
	ldg := ledger.New(repo, log)

	positions, err := ldg.Positions(ctx, accountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get positions error: %v\n", err)
		return 1
	}
	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return 0
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	prices := make(map[string]float64, len(symbols))
	insts, err := stack.Prices.Snapshot(ctx, symbols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "market data error: %v\n", err)
		return 1
	}
	for _, inst := range insts {
		prices[inst.Symbol] = inst.CurrentPrice
	}

	fmt.Printf("Found %d position(s) on %s:\n\n", len(positions), accountID)
	for _, p := range positions {
		fmt.Printf("  %s: %s шт, ср.цена %s, текущая %.2f\n",
			p.Symbol, p.Amount.String(), p.AveragePrice.StringFixed(2), prices[p.Symbol])
	}
	fmt.Println()

	if dryRun {
		fmt.Println("Dry run: no orders placed.")
		return 0
	}

	notifier := telegram.NewNotifier(cfg.Telegram, log)
	exec := executor.NewExecutor(stack.Gateway, ldg, events.NewBroadcaster(), notifier, metrics.New(), cfg.Broker.Mode, log)
	trades, err := exec.LiquidateAll(ctx, accountID, prices, "manual close-all")
	exec.Wait()

	for _, t := range trades {
		fmt.Printf("  [OK]   %s: sold %s @ %s, P&L %s\n", t.Symbol, t.Amount.String(), t.Price.StringFixed(2), t.PnL.StringFixed(2))
	}
	failed := len(positions) - len(trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [FAIL] %v\n", err)
	}

	if err := repo.SetActive(ctx, accountID, false); err != nil {
		fmt.Fprintf(os.Stderr, "disable strategy: %v\n", err)
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", len(trades), failed)
	return failed
}

// flattenBroker sells every holding reported by the broker account.
func flattenBroker(ctx context.Context, stack *broker.Stack, dryRun bool) int {
	if stack.Tinkoff == nil {
		fmt.Fprintln(os.Stderr, "-broker needs broker.mode sandbox or live")
		return 1
	}
	holdings, err := stack.Tinkoff.Holdings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "get portfolio error: %v\n", err)
		return 1
	}
	if len(holdings) == 0 {
		fmt.Println("No open positions.")
		return 0
	}

	fmt.Printf("Found %d position(s):\n\n", len(holdings))
	for _, h := range holdings {
		fmt.Printf("  %s: %.0f шт, ср.цена %.2f, текущая %.2f, P&L %.2f\n",
			h.Symbol, h.Quantity, h.AvgPrice, h.CurrentPrice, h.PnL)
	}
	fmt.Println()

	if dryRun {
		fmt.Println("Dry run: no orders placed.")
		return 0
	}

	var closed, failed int
	for _, h := range holdings {
		if h.Quantity <= 0 {
			continue
		}
		if h.Symbol == "" {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: unknown ticker\n", h.InstrumentUID)
			failed++
			continue
		}

		res, err := stack.Tinkoff.SubmitOrder(ctx, h.Symbol, domain.Sell, h.Quantity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: sell: %v\n", h.Symbol, err)
			failed++
			continue
		}
		if !res.Success {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s: %s\n", h.Symbol, res.Message)
			failed++
			continue
		}

		fmt.Printf("  [OK]   %s: sold %.0f @ %.2f\n", h.Symbol, res.FilledQty, res.FilledPrice)
		closed++
	}

	fmt.Printf("\nDone: %d closed, %d failed.\n", closed, failed)
	return failed
}
