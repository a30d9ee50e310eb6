package exit

import (
	"fmt"
	"math"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/signal"
)

type Config struct {
	// RoundTripCost is fee rate plus spread estimate, as a fraction.
	RoundTripCost float64
	// TrailBase is the trailing stop distance below the reference peak.
	TrailBase float64
	// TrailVolatilityFactor widens the trail per percent of 24h volatility.
	TrailVolatilityFactor float64
	MaxTrail              float64
}

func DefaultConfig() Config {
	return Config{
		RoundTripCost:         0.003,
		TrailBase:             0.03,
		TrailVolatilityFactor: 0.002,
		MaxTrail:              0.10,
	}
}

// Decision is the outcome for one open position. Zero value means hold.
type Decision struct {
	ShouldSell   bool    `json:"should_sell"`
	SellRatio    float64 `json:"sell_ratio"`
	Reason       string  `json:"reason"`
	Tier         int     `json:"tier"`
	NetProfitPct float64 `json:"net_profit_pct"`
}

type Evaluator struct {
	cfg Config
}

func New(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.RoundTripCost <= 0 {
		cfg.RoundTripCost = def.RoundTripCost
	}
	if cfg.TrailBase <= 0 {
		cfg.TrailBase = def.TrailBase
	}
	if cfg.TrailVolatilityFactor < 0 {
		cfg.TrailVolatilityFactor = def.TrailVolatilityFactor
	}
	if cfg.MaxTrail <= 0 {
		cfg.MaxTrail = def.MaxTrail
	}
	return &Evaluator{cfg: cfg}
}

// NetProfitPct is the profit against a cost basis inflated by the round-trip cost.
func (e *Evaluator) NetProfitPct(averagePrice, currentPrice float64) float64 {
	if averagePrice <= 0 {
		return 0
	}
	breakEven := averagePrice * (1 + e.cfg.RoundTripCost)
	return (currentPrice - breakEven) / breakEven * 100
}

// TrailingStop returns the stop level below the estimated 24h peak.
func (e *Evaluator) TrailingStop(inst domain.Instrument, res signal.Result) float64 {
	peak := math.Max(inst.CurrentPrice, inst.PreviousClose())
	trail := math.Min(e.cfg.TrailBase+res.VolatilityPct*e.cfg.TrailVolatilityFactor, e.cfg.MaxTrail)
	return peak * (1 - trail)
}

// Evaluate walks the exit tiers in priority order. There is no stop-loss tier:
// positions are only closed while profitable net of costs.
func (e *Evaluator) Evaluate(pos domain.Position, inst domain.Instrument, res signal.Result) Decision {
	avg := pos.AveragePrice.InexactFloat64()
	price := inst.CurrentPrice
	if avg <= 0 || price <= 0 || !pos.Amount.IsPositive() {
		return Decision{}
	}

	net := e.NetProfitPct(avg, price)
	sell := func(tier int, ratio float64, reason string) Decision {
		return Decision{ShouldSell: true, SellRatio: ratio, Reason: reason, Tier: tier, NetProfitPct: net}
	}

	switch {
	case net >= 15:
		return sell(1, 1.0, fmt.Sprintf("take profit: net %+.2f%% reached 15%% target", net))
	case net >= 8 && res.Momentum < -0.3:
		return sell(2, 0.8, fmt.Sprintf("momentum reversal (%.2f) with net %+.2f%%", res.Momentum, net))
	case net >= 5 && res.Volatility == signal.VolatilityHighRisk:
		return sell(3, 0.75, fmt.Sprintf("high volatility (%.1f%%) with net %+.2f%%", res.VolatilityPct, net))
	case net >= 3.5 && res.Score <= 2:
		return sell(4, 0.9, fmt.Sprintf("weak composite score %.1f with net %+.2f%%", res.Score, net))
	case res.Signal == signal.StrongSell && net > 1.5:
		return sell(5, 0.9, fmt.Sprintf("strong sell signal with net %+.2f%%", net))
	}

	if stop := e.TrailingStop(inst, res); price < stop && net > 1.0 {
		return sell(6, 0.9, fmt.Sprintf("trailing stop %.4f broken with net %+.2f%%", stop, net))
	}

	return Decision{NetProfitPct: net}
}
