package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/autopilot/internal/broker"
	"github.com/camuig/autopilot/internal/config"
	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/executor"
	"github.com/camuig/autopilot/internal/exit"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/opportunity"
	"github.com/camuig/autopilot/internal/scheduler"
	"github.com/camuig/autopilot/internal/storage"
	"github.com/camuig/autopilot/internal/telegram"
	"github.com/camuig/autopilot/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("starting autopilot", "mode", cfg.Broker.Mode, "market", cfg.Market.Source, "accounts", len(cfg.Accounts))

	// Init database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)
	ldg := ledger.New(ledgerStore(cfg.Database, repo), log)
	if cfg.Database.Ephemeral {
		log.Warn("ledger kept in memory, balances reset on restart")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack, err := broker.OpenStack(ctx, cfg, log)
	if err != nil {
		log.Error("market init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Error("broker client stop error", "error", err)
		}
	}()

	if err := onboard(ctx, cfg, ldg, repo, log); err != nil {
		log.Error("account onboarding failed", "error", err)
		os.Exit(1)
	}

	bus := events.NewBroadcaster()
	m := metrics.New()
	m.WatchDropped(bus.Dropped)
	notifier := telegram.NewNotifier(cfg.Telegram, log)

	exec := executor.NewExecutor(stack.Gateway, ldg, bus, notifier, m, cfg.Broker.Mode, log)
	cycle := scheduler.NewCycle(scheduler.CycleDeps{
		Settings: repo,
		Market:   stack.Prices,
		Ledger:   ldg,
		Trader:   exec,
		Exits:    exit.New(exitConfig(cfg.Trading)),
		Ranker:   opportunity.New(rankerConfig(cfg.Trading)),
		Events:   bus,
		Notifier: notifier,
		Journal:  repo,
		Metrics:  m,
		Logger:   log,
	}, scheduler.CycleConfig{
		Universe:          cfg.Market.Universe,
		MinTradingBalance: cfg.Trading.MinTradingBalance,
		SessionOnly:       cfg.Market.SessionOnly,
		Location:          cfg.Location(),
	})
	registry := scheduler.NewRegistry(cycle, cfg.TradingInterval(), m, log)

	settings, err := repo.ListSettings(ctx)
	if err != nil {
		log.Error("list settings failed", "error", err)
		os.Exit(1)
	}
	for _, s := range settings {
		if s.IsActive {
			registry.Start(ctx, s.AccountID)
		}
	}

	webServer := web.NewServer(ctx, web.Deps{
		Ledger:    ldg,
		Settings:  repo,
		Scheduler: registry,
		Prices:    stack.Prices,
		Cycles:    repo,
		Events:    bus,
		Metrics:   m,
	}, cfg.Web, log)

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifyStatus(notifier, log, fmt.Sprintf("🤖 Autopilot запущен (%s)", cfg.Broker.Mode))

	<-ctx.Done()
	log.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}
	registry.Shutdown()
	cycle.Wait()
	exec.Wait()
	bus.Close()

	notifyStatus(notifier, log, "🛑 Autopilot остановлен")
	log.Info("autopilot stopped")
}

// ledgerStore returns where balances, positions and trades live.
func ledgerStore(cfg config.DatabaseConfig, repo *storage.Repository) ledger.Store {
	if cfg.Ephemeral {
		return ledger.NewMemoryStore()
	}
	return repo
}

// onboard creates configured accounts and their strategy settings. Existing
// rows are left alone so balances and API toggles survive restarts.
func onboard(ctx context.Context, cfg *config.Config, ldg *ledger.Ledger, repo *storage.Repository, log *logger.Logger) error {
	for _, a := range cfg.Accounts {
		if _, created, err := ldg.Open(ctx, a.ID, decimal.NewFromFloat(a.InitialBalance)); err != nil {
			return err
		} else if created {
			log.Info("account onboarded", "account", a.ID, "strategy", a.StrategyID)
		}
		err := repo.EnsureSettings(ctx, domain.StrategySettings{
			AccountID:    a.ID,
			IsActive:     a.Active,
			StrategyID:   a.StrategyID,
			RiskLevel:    a.RiskLevel,
			TargetProfit: a.TargetProfit,
			MaxDailyLoss: a.MaxDailyLoss,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func exitConfig(t config.TradingConfig) exit.Config {
	c := exit.DefaultConfig()
	c.RoundTripCost = t.RoundTripCost
	c.TrailBase = t.TrailBase
	return c
}

func rankerConfig(t config.TradingConfig) opportunity.Config {
	c := opportunity.DefaultConfig()
	c.MinConfidence = t.MinConfidence
	c.MinScore = t.MinScore
	c.MaxCandidates = t.MaxCandidates
	c.MaxPerTrade = t.MaxPerTrade
	c.MinInvestment = t.MinInvestment
	c.CostBuffer = t.CostBuffer
	return c
}

func notifyStatus(n *telegram.Notifier, log *logger.Logger, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Notify(ctx, telegram.FormatStatus("autopilot", msg)); err != nil {
		log.Warn("status notification failed", "error", err)
	}
}
