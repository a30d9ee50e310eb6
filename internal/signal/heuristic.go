package signal

import (
	"fmt"
	"math"

	"github.com/camuig/autopilot/internal/domain"
)

const (
	buyConditionCount  = 5
	sellConditionCount = 4
	maxConfidence      = 0.95
)

// Heuristic scores an instrument from its 24h change and volume only.
type Heuristic struct {
	profile Profile
}

func NewHeuristic(p Profile) *Heuristic {
	return &Heuristic{profile: p}
}

func (h *Heuristic) Profile() Profile {
	return h.profile
}

func (h *Heuristic) Analyze(inst domain.Instrument) Result {
	p := h.profile
	change := inst.PriceChange24h

	osc := h.oscillator(change)
	momentum := clamp(change/p.MomentumScale, -1, 1)
	volume := h.volumeStrength(inst.Volume24h)
	trend := clamp(5+momentum*4+(volume-1)*1.5, 1, 10)

	prevClose := inst.PreviousClose()
	support := prevClose * (1 - p.SupportBand)
	resistance := prevClose * (1 + p.ResistanceBand)
	price := inst.CurrentPrice

	var factors []string
	buyScore, sellScore := 0, 0

	if osc < p.OversoldLevel {
		buyScore++
		factors = append(factors, fmt.Sprintf("oscillator oversold (%.0f)", osc))
	}
	if momentum >= 0 {
		buyScore++
		factors = append(factors, fmt.Sprintf("momentum non-negative (%.2f)", momentum))
	}
	if volume >= p.StrongVolume {
		buyScore++
		factors = append(factors, fmt.Sprintf("strong volume (x%.2f)", volume))
	}
	if trend >= p.MinTrend {
		buyScore++
		factors = append(factors, fmt.Sprintf("trend adequate (%.1f)", trend))
	}
	if price > 0 && price <= support*(1+p.NearBand) {
		buyScore++
		factors = append(factors, fmt.Sprintf("price near support %.4f", support))
	}

	if osc > p.OverboughtLevel {
		sellScore++
		factors = append(factors, fmt.Sprintf("oscillator overbought (%.0f)", osc))
	}
	if momentum < 0 {
		sellScore++
		factors = append(factors, fmt.Sprintf("momentum negative (%.2f)", momentum))
	}
	if price > 0 && price >= resistance*(1-p.NearBand) {
		sellScore++
		factors = append(factors, fmt.Sprintf("price near resistance %.4f", resistance))
	}
	if volume < p.WeakVolume {
		sellScore++
		factors = append(factors, fmt.Sprintf("weak volume (x%.2f)", volume))
	}

	score := clamp(float64(buyScore)*1.2-float64(sellScore)*0.8+trend*0.3+momentum*5, 1, 10)

	volPct := math.Abs(change)

	return Result{
		Symbol:              inst.Symbol,
		Signal:              classify(buyScore, sellScore, score, momentum),
		Confidence:          confidence(buyScore, sellScore),
		Score:               score,
		ContributingFactors: factors,
		Oscillator:          osc,
		Momentum:            momentum,
		VolumeStrength:      volume,
		Trend:               trend,
		BuyScore:            buyScore,
		SellScore:           sellScore,
		Volatility:          h.volatility(volPct),
		VolatilityPct:       volPct,
		Support:             support,
		Resistance:          resistance,
	}
}

func (h *Heuristic) oscillator(change float64) float64 {
	for _, l := range h.profile.OscillatorSteps {
		if change >= l.MinChange {
			return l.Value
		}
	}
	return h.profile.OscillatorFloor
}

// volumeStrength is neutral when volume is unknown.
func (h *Heuristic) volumeStrength(volume float64) float64 {
	if volume <= 0 || h.profile.ReferenceVolume <= 0 {
		return 1
	}
	return clamp(volume/h.profile.ReferenceVolume, 0, 3)
}

func (h *Heuristic) volatility(absChange float64) Volatility {
	switch {
	case absChange >= h.profile.HighVolatility:
		return VolatilityHighRisk
	case absChange >= h.profile.MediumVolatility:
		return VolatilityMedium
	default:
		return VolatilityLow
	}
}

// classify applies the ordered rules; first match wins.
func classify(buyScore, sellScore int, score, momentum float64) Signal {
	switch {
	case buyScore >= 4 && sellScore <= 3 && score >= 5:
		return StrongBuy
	case buyScore >= 3 && score >= 4 && momentum > -0.2:
		return Buy
	case sellScore >= 4 && score <= 4:
		return StrongSell
	case sellScore >= 3:
		return Sell
	default:
		return Hold
	}
}

func confidence(buyScore, sellScore int) float64 {
	var c float64
	switch {
	case buyScore > sellScore:
		c = float64(buyScore) / buyConditionCount
	case sellScore > buyScore:
		c = float64(sellScore) / sellConditionCount
	default:
		c = float64(buyScore) / buyConditionCount / 2
	}
	return math.Min(c, maxConfidence)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
