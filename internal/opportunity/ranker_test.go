package opportunity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/signal"
)

func scored(symbol string, sig signal.Signal, conf, score, momentum, trend, volume, volPct float64) Scored {
	return Scored{
		Instrument: domain.Instrument{Symbol: symbol, CurrentPrice: 100},
		Result: signal.Result{
			Symbol:         symbol,
			Signal:         sig,
			Confidence:     conf,
			Score:          score,
			Momentum:       momentum,
			Trend:          trend,
			VolumeStrength: volume,
			VolatilityPct:  volPct,
		},
	}
}

// potentials: A=70, B=52, C=36.25, D=30.75
func universe() []Scored {
	return []Scored{
		scored("DDDD", signal.Buy, 0.55, 5, 0, 5, 1, 0),
		scored("BBBB", signal.Buy, 0.6, 6, 0.3, 7, 1.5, 1),
		scored("AAAA", signal.StrongBuy, 0.8, 7.5, 0.5, 8, 2, 2),
		scored("CCCC", signal.Buy, 0.55, 5, 0.1, 6, 1, 0),
	}
}

func symbols(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Instrument.Symbol
	}
	return out
}

func TestPotential(t *testing.T) {
	u := universe()
	assert.InDelta(t, 30.75, Potential(u[0].Result), 1e-9)
	assert.InDelta(t, 52, Potential(u[1].Result), 1e-9)
	assert.InDelta(t, 70, Potential(u[2].Result), 1e-9)

	maxed := signal.Result{Momentum: 1, Trend: 10, VolumeStrength: 3, VolatilityPct: 50, Confidence: 1}
	assert.InDelta(t, 100, Potential(maxed), 1e-9)
}

func TestRankOrdersAndSizes(t *testing.T) {
	r := New(DefaultConfig())

	got := r.Rank(universe(), 1000, 5)
	require.Equal(t, []string{"AAAA", "BBBB", "CCCC"}, symbols(got))

	assert.Equal(t, 0.30, got[0].Fraction)
	assert.Equal(t, 0.20, got[1].Fraction)
	assert.Equal(t, 0.10, got[2].Fraction)

	// 1000*0.3*0.995, then the remainder feeds the next candidate
	assert.InDelta(t, 298.5, got[0].InvestAmount, 0.011)
	assert.InDelta(t, (1000-got[0].InvestAmount)*0.2*0.995, got[1].InvestAmount, 0.011)
	rest := 1000 - got[0].InvestAmount - got[1].InvestAmount
	assert.InDelta(t, rest*0.1*0.995, got[2].InvestAmount, 0.011)

	for _, c := range got {
		assert.Contains(t, c.Reason, string(c.Result.Signal))
	}
}

func TestRankFilters(t *testing.T) {
	r := New(DefaultConfig())
	u := []Scored{
		scored("HOLD", signal.Hold, 0.9, 8, 0.5, 8, 2, 2),
		scored("SELL", signal.Sell, 0.9, 8, 0.5, 8, 2, 2),
		scored("LOWC", signal.Buy, 0.5, 8, 0.5, 8, 2, 2),
		scored("LOWS", signal.Buy, 0.9, 4.5, 0.5, 8, 2, 2),
		scored("GOOD", signal.Buy, 0.6, 6, 0.5, 8, 2, 2),
	}
	noPrice := scored("NOPX", signal.StrongBuy, 0.9, 9, 1, 9, 2, 2)
	noPrice.Instrument.CurrentPrice = 0
	u = append(u, noPrice)

	got := r.Rank(u, 1000, 5)
	assert.Equal(t, []string{"GOOD"}, symbols(got))
}

func TestRankPerTradeCap(t *testing.T) {
	r := New(DefaultConfig())

	got := r.Rank(universe()[2:3], 100000, 5)
	require.Len(t, got, 1)
	assert.InDelta(t, 995, got[0].InvestAmount, 0.011)
}

func TestRankSkipsBelowMinimum(t *testing.T) {
	r := New(DefaultConfig())

	got := r.Rank(universe(), 50, 5)
	require.Equal(t, []string{"AAAA"}, symbols(got))
	assert.GreaterOrEqual(t, got[0].InvestAmount, 10.0)
}

func TestRankRiskLevelScalesSize(t *testing.T) {
	r := New(DefaultConfig())
	one := universe()[2:3]

	low := r.Rank(one, 1000, 1)
	mid := r.Rank(one, 1000, 5)
	high := r.Rank(one, 1000, 10)

	require.Len(t, low, 1)
	require.Len(t, mid, 1)
	require.Len(t, high, 1)
	assert.Less(t, low[0].InvestAmount, mid[0].InvestAmount)
	assert.InDelta(t, 2*mid[0].InvestAmount, high[0].InvestAmount, 0.02)
}

func TestRankNeverOverAllocates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerTrade = 1e9
	r := New(cfg)

	var u []Scored
	for i := 0; i < 10; i++ {
		u = append(u, scored(string(rune('A'+i))+"XXX", signal.StrongBuy, 0.9, 9, 1, 10, 3, 10))
	}

	for _, balance := range []float64{15, 100, 1234.56, 1e6} {
		got := r.Rank(u, balance, 10)
		var total float64
		for _, c := range got {
			total += c.InvestAmount
		}
		assert.LessOrEqual(t, total, balance, "balance %.2f", balance)
	}
}

func TestRankCapsCandidateCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCandidates = 10
	r := New(cfg)

	var u []Scored
	for i := 0; i < 6; i++ {
		u = append(u, scored(string(rune('A'+i))+"XXX", signal.StrongBuy, 0.9, 9, 1, 10, 3, 10))
	}
	assert.Len(t, r.Rank(u, 1e6, 10), CandidateLimit)
}

func TestRankEmpty(t *testing.T) {
	r := New(DefaultConfig())
	assert.Empty(t, r.Rank(nil, 1000, 5))
	assert.Empty(t, r.Rank(universe(), 0, 5))
}
