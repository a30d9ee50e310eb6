package signal

import "github.com/camuig/autopilot/internal/domain"

type Signal string

const (
	StrongBuy  Signal = "STRONG_BUY"
	Buy        Signal = "BUY"
	Hold       Signal = "HOLD"
	Sell       Signal = "SELL"
	StrongSell Signal = "STRONG_SELL"
)

// IsBuy reports whether the signal is one of the buy classes.
func (s Signal) IsBuy() bool {
	return s == StrongBuy || s == Buy
}

type Volatility string

const (
	VolatilityLow      Volatility = "LOW"
	VolatilityMedium   Volatility = "MEDIUM"
	VolatilityHighRisk Volatility = "HIGH_RISK"
)

// Result is the classified view of one instrument snapshot.
type Result struct {
	Symbol              string   `json:"symbol"`
	Signal              Signal   `json:"signal"`
	Confidence          float64  `json:"confidence"`
	Score               float64  `json:"score"`
	ContributingFactors []string `json:"contributing_factors"`

	Oscillator     float64 `json:"oscillator"`
	Momentum       float64 `json:"momentum"`
	VolumeStrength float64 `json:"volume_strength"`
	Trend          float64 `json:"trend"`
	BuyScore       int     `json:"buy_score"`
	SellScore      int     `json:"sell_score"`

	Volatility    Volatility `json:"volatility"`
	VolatilityPct float64    `json:"volatility_pct"`
	Support       float64    `json:"support"`
	Resistance    float64    `json:"resistance"`
}

// Analyzer turns a market snapshot into a signal. Implementations must be pure.
type Analyzer interface {
	Analyze(inst domain.Instrument) Result
}
