package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/events"
	"github.com/camuig/autopilot/internal/exit"
	"github.com/camuig/autopilot/internal/ledger"
	"github.com/camuig/autopilot/internal/logger"
	"github.com/camuig/autopilot/internal/metrics"
	"github.com/camuig/autopilot/internal/opportunity"
	"github.com/camuig/autopilot/internal/signal"
	"github.com/camuig/autopilot/internal/telegram"
)

const notifyTimeout = 10 * time.Second

// ErrUpstreamDataUnavailable aborts a cycle and disables the strategy.
var ErrUpstreamDataUnavailable = errors.New("upstream market data unavailable")

type Outcome int

const (
	// OutcomeContinue keeps the account scheduled.
	OutcomeContinue Outcome = iota
	// OutcomeHalt stops the account's loop.
	OutcomeHalt
)

func (o Outcome) String() string {
	if o == OutcomeHalt {
		return "halt"
	}
	return "continue"
}

type SettingsStore interface {
	GetSettings(ctx context.Context, accountID string) (domain.StrategySettings, error)
	SetActive(ctx context.Context, accountID string, active bool) error
}

type MarketData interface {
	Snapshot(ctx context.Context, universe []string) ([]domain.Instrument, error)
}

type Trader interface {
	ExecuteBuy(ctx context.Context, accountID, symbol string, invest, price float64, reason string) (domain.Trade, error)
	ExecuteSell(ctx context.Context, accountID, symbol string, ratio, price float64, reason string) (domain.Trade, error)
	LiquidateAll(ctx context.Context, accountID string, prices map[string]float64, reason string) ([]domain.Trade, error)
}

type Journal interface {
	RecordCycle(ctx context.Context, rep domain.CycleReport) error
}

type Publisher interface {
	Publish(t events.Type, accountID string, payload any)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type CycleConfig struct {
	Universe          []string
	MinTradingBalance float64
	// SessionOnly skips cycles outside the MOEX main session.
	SessionOnly bool
	Location    *time.Location
}

// StatusChange is the payload of status events.
type StatusChange struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// Cycle runs one decision pass for an account.
type Cycle struct {
	settings SettingsStore
	market   MarketData
	ledger   *ledger.Ledger
	trader   Trader
	exits    *exit.Evaluator
	ranker   *opportunity.Ranker
	events   Publisher
	notifier Notifier
	journal  Journal
	metrics  *metrics.Metrics
	cfg      CycleConfig
	logger   *logger.Logger
	now      func() time.Time

	notifyWG sync.WaitGroup
}

type CycleDeps struct {
	Settings SettingsStore
	Market   MarketData
	Ledger   *ledger.Ledger
	Trader   Trader
	Exits    *exit.Evaluator
	Ranker   *opportunity.Ranker
	Events   Publisher
	Notifier Notifier
	Journal  Journal
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

func NewCycle(deps CycleDeps, cfg CycleConfig) *Cycle {
	if deps.Exits == nil {
		deps.Exits = exit.New(exit.DefaultConfig())
	}
	if deps.Ranker == nil {
		deps.Ranker = opportunity.New(opportunity.DefaultConfig())
	}
	if deps.Events == nil {
		deps.Events = events.NewBroadcaster()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Cycle{
		settings: deps.Settings,
		market:   deps.Market,
		ledger:   deps.Ledger,
		trader:   deps.Trader,
		exits:    deps.Exits,
		ranker:   deps.Ranker,
		events:   deps.Events,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

func (c *Cycle) Run(ctx context.Context, accountID string) (outcome Outcome, err error) {
	log := c.logger.ForAccount(accountID)
	rep := domain.CycleReport{AccountID: accountID, StartedAt: c.now()}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
			outcome = OutcomeContinue
			log.Error("panic in decision cycle", "panic", fmt.Sprint(r))
			c.notify(ctx, telegram.FormatError("cycle "+accountID, err))
		}
		rep.Duration = c.now().Sub(rep.StartedAt)
		rep.Outcome = outcome.String()
		if err != nil {
			rep.Error = err.Error()
		}
		c.metrics.Cycle(accountID, rep.Outcome, rep.Duration.Seconds())
		c.events.Publish(events.TypeCycle, accountID, rep)
	}()

	// 1. settings
	settings, err := c.settings.GetSettings(ctx, accountID)
	if err != nil {
		log.Error("get settings", "error", err)
		return OutcomeContinue, err
	}
	if !settings.IsActive {
		log.Info("strategy inactive, stopping")
		return OutcomeHalt, nil
	}
	if c.cfg.SessionOnly && !withinSession(c.now().In(c.cfg.Location)) {
		log.Debug("outside trading session, skipping cycle")
		return OutcomeContinue, nil
	}

	// 2. market snapshot
	insts, err := c.market.Snapshot(ctx, c.cfg.Universe)
	if err == nil && len(insts) == 0 {
		err = errors.New("empty snapshot")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpstreamDataUnavailable, err)
		log.Error("market snapshot failed, disabling strategy", "error", err)
		c.deactivate(ctx, accountID, "market data unavailable: "+err.Error())
		return OutcomeHalt, err
	}
	rep.Instruments = len(insts)

	analyzer := signal.ForStrategy(settings.StrategyID)
	scored := make([]opportunity.Scored, 0, len(insts))
	bySymbol := make(map[string]opportunity.Scored, len(insts))
	prices := make(map[string]float64, len(insts))
	for _, inst := range insts {
		res := analyzer.Analyze(inst)
		c.metrics.Signal(string(res.Signal))
		s := opportunity.Scored{Instrument: inst, Result: res}
		scored = append(scored, s)
		bySymbol[inst.Symbol] = s
		prices[inst.Symbol] = inst.CurrentPrice
	}

	// 3. target-profit ceiling
	val, err := c.ledger.Valuation(ctx, accountID, prices)
	if err != nil {
		log.Error("valuation", "error", err)
		return OutcomeContinue, err
	}
	if settings.TargetProfit > 0 && val.Total.InexactFloat64() >= settings.TargetProfit {
		reason := fmt.Sprintf("target %.2f reached at %s", settings.TargetProfit, val.Total.StringFixed(2))
		log.Info("target profit reached, liquidating", "total", val.Total.StringFixed(2), "target", settings.TargetProfit)
		trades, lerr := c.trader.LiquidateAll(ctx, accountID, prices, reason)
		rep.Sells = len(trades)
		if lerr != nil {
			log.Error("liquidation incomplete", "error", lerr)
			rep.Failed++
		}
		c.deactivate(ctx, accountID, reason)
		c.finish(ctx, accountID, prices, &rep)
		return OutcomeHalt, nil
	}

	// 4. exits
	sold := make(map[string]bool)
	for _, pos := range val.Positions {
		s, ok := bySymbol[pos.Symbol]
		if !ok {
			continue
		}
		d := c.exits.Evaluate(pos, s.Instrument, s.Result)
		if !d.ShouldSell {
			continue
		}
		if _, err := c.trader.ExecuteSell(ctx, accountID, pos.Symbol, d.SellRatio, s.Instrument.CurrentPrice, d.Reason); err != nil {
			log.Warn("exit failed", "symbol", pos.Symbol, "tier", d.Tier, "error", err)
			rep.Failed++
			continue
		}
		c.metrics.Exit(d.Tier)
		sold[pos.Symbol] = true
		rep.Sells++
	}

	// 5. entries
	if c.buysAllowed(ctx, log, accountID, settings) {
		acc, err := c.ledger.Account(ctx, accountID)
		if err != nil {
			log.Error("get account", "error", err)
			return OutcomeContinue, err
		}
		balance := acc.MainBalance.InexactFloat64()
		if balance > c.cfg.MinTradingBalance {
			pool := make([]opportunity.Scored, 0, len(scored))
			for _, s := range scored {
				if !sold[s.Instrument.Symbol] {
					pool = append(pool, s)
				}
			}
			for _, cand := range c.ranker.Rank(pool, balance, settings.RiskLevel) {
				sym := cand.Instrument.Symbol
				if _, err := c.trader.ExecuteBuy(ctx, accountID, sym, cand.InvestAmount, cand.Instrument.CurrentPrice, cand.Reason); err != nil {
					log.Warn("entry failed", "symbol", sym, "error", err)
					rep.Failed++
					continue
				}
				rep.Buys++
			}
		}
	}

	// 6. portfolio
	c.finish(ctx, accountID, prices, &rep)
	log.Info("cycle completed", "instruments", rep.Instruments, "sells", rep.Sells, "buys", rep.Buys, "failed", rep.Failed)
	return OutcomeContinue, nil
}

// buysAllowed applies the daily loss guard. Exits are never blocked by it.
func (c *Cycle) buysAllowed(ctx context.Context, log *logger.Logger, accountID string, s domain.StrategySettings) bool {
	if s.MaxDailyLoss <= 0 {
		return true
	}
	now := c.now().In(c.cfg.Location)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	pnl, err := c.ledger.RealizedPnLSince(ctx, accountID, midnight)
	if err != nil {
		log.Error("realized pnl", "error", err)
		return false
	}
	if pnl.InexactFloat64() <= -s.MaxDailyLoss {
		log.Info("daily loss limit reached, entries paused", "pnl", pnl.StringFixed(2), "limit", s.MaxDailyLoss)
		return false
	}
	return true
}

func (c *Cycle) finish(ctx context.Context, accountID string, prices map[string]float64, rep *domain.CycleReport) {
	val, err := c.ledger.Valuation(ctx, accountID, prices)
	if err != nil {
		c.logger.Error("valuation", "account", accountID, "error", err)
		return
	}
	rep.MainBalance = val.Account.MainBalance
	rep.ProfitBalance = val.Account.ProfitBalance
	rep.PositionsValue = val.PositionsValue
	rep.Total = val.Total
	rep.Positions = val.Positions

	c.metrics.Equity(accountID, val.Total.InexactFloat64())
	c.events.Publish(events.TypePortfolio, accountID, val)

	if c.journal == nil {
		return
	}
	r := *rep
	r.Duration = c.now().Sub(r.StartedAt)
	if err := c.journal.RecordCycle(ctx, r); err != nil {
		c.logger.Error("record cycle", "account", accountID, "error", err)
	}
}

func (c *Cycle) deactivate(ctx context.Context, accountID, reason string) {
	if err := c.settings.SetActive(ctx, accountID, false); err != nil {
		c.logger.Error("disable strategy", "account", accountID, "error", err)
	}
	c.events.Publish(events.TypeStatus, accountID, StatusChange{Active: false, Reason: reason})
	c.notify(ctx, telegram.FormatStatus(accountID, "Стратегия остановлена: "+reason))
}

// Wait blocks until pending notifications finish.
func (c *Cycle) Wait() {
	c.notifyWG.Wait()
}

// notify delivers in the background so a slow channel never holds the cycle.
func (c *Cycle) notify(ctx context.Context, text string) {
	if c.notifier == nil {
		return
	}
	c.notifyWG.Add(1)
	go func() {
		defer c.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := c.notifier.Notify(nctx, text); err != nil {
			c.metrics.NotificationFailed()
			c.logger.Warn("notification failed", "error", err)
		}
	}()
}

// withinSession reports whether t falls in the MOEX main session, 10:00-18:50 on weekdays.
func withinSession(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 600 && minutes <= 1130
}
