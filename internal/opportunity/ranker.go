package opportunity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/camuig/autopilot/internal/domain"
	"github.com/camuig/autopilot/internal/signal"
)

// SizeTier maps conviction to the fraction of usable balance invested.
type SizeTier struct {
	MinConfidence float64
	MinScore      float64
	Fraction      float64
}

// CandidateLimit bounds how many candidates one Rank call returns.
const CandidateLimit = 3

type Config struct {
	MinConfidence float64
	MinScore      float64
	MaxCandidates int
	MaxPerTrade   float64
	MinInvestment float64
	CostBuffer    float64
	// Tiers are checked in order; the last one should have zero minimums.
	Tiers []SizeTier
}

func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		MinScore:      4.5,
		MaxCandidates: CandidateLimit,
		MaxPerTrade:   1000,
		MinInvestment: 10,
		CostBuffer:    0.005,
		Tiers: []SizeTier{
			{MinConfidence: 0.8, MinScore: 7, Fraction: 0.30},
			{MinConfidence: 0.6, MinScore: 5.5, Fraction: 0.20},
			{Fraction: 0.10},
		},
	}
}

// Scored pairs an instrument with its analysis.
type Scored struct {
	Instrument domain.Instrument
	Result     signal.Result
}

type Candidate struct {
	Instrument   domain.Instrument `json:"instrument"`
	Result       signal.Result     `json:"result"`
	Potential    float64           `json:"potential"`
	Fraction     float64           `json:"fraction"`
	InvestAmount float64           `json:"invest_amount"`
	Reason       string            `json:"reason"`
}

type Ranker struct {
	cfg Config
}

func New(cfg Config) *Ranker {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	cfg.MaxCandidates = min(cfg.MaxCandidates, CandidateLimit)
	if cfg.MaxPerTrade <= 0 {
		cfg.MaxPerTrade = def.MaxPerTrade
	}
	if cfg.CostBuffer < 0 || cfg.CostBuffer >= 1 {
		cfg.CostBuffer = def.CostBuffer
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = def.Tiers
	}
	return &Ranker{cfg: cfg}
}

// Potential is a weighted sum where every factor's contribution is capped.
func Potential(res signal.Result) float64 {
	momentum := math.Min(math.Max(res.Momentum, 0)*30, 30)
	trend := math.Min(res.Trend*2.5, 25)
	volume := math.Min(res.VolumeStrength*10, 20)
	volatility := math.Min(res.VolatilityPct*1.5, 10)
	confidence := math.Min(res.Confidence*15, 15)
	return momentum + trend + volume + volatility + confidence
}

// Rank selects at most MaxCandidates buy candidates and sizes them against balance.
// Each sized candidate reduces the balance seen by the next one.
func (r *Ranker) Rank(universe []Scored, balance, riskLevel float64) []Candidate {
	var pool []Candidate
	for _, s := range universe {
		res := s.Result
		if !res.Signal.IsBuy() || res.Confidence <= r.cfg.MinConfidence || res.Score <= r.cfg.MinScore {
			continue
		}
		if s.Instrument.CurrentPrice <= 0 {
			continue
		}
		pool = append(pool, Candidate{
			Instrument: s.Instrument,
			Result:     res,
			Potential:  Potential(res),
		})
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].Potential != pool[j].Potential {
			return pool[i].Potential > pool[j].Potential
		}
		return pool[i].Instrument.Symbol < pool[j].Instrument.Symbol
	})
	if len(pool) > r.cfg.MaxCandidates {
		pool = pool[:r.cfg.MaxCandidates]
	}

	scale := riskScale(riskLevel)
	remaining := balance
	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		c.Fraction = r.fraction(c.Result)
		invest := math.Min(remaining*c.Fraction*scale, r.cfg.MaxPerTrade)
		invest *= 1 - r.cfg.CostBuffer
		invest = math.Floor(invest*100) / 100
		if invest < r.cfg.MinInvestment || invest > remaining {
			continue
		}
		c.InvestAmount = invest
		c.Reason = reason(c)
		remaining -= invest
		out = append(out, c)
	}
	return out
}

func (r *Ranker) fraction(res signal.Result) float64 {
	for _, t := range r.cfg.Tiers {
		if res.Confidence >= t.MinConfidence && res.Score >= t.MinScore {
			return t.Fraction
		}
	}
	return 0
}

// riskScale maps risk level 1..10 onto a sizing multiplier, 1 at level 5.
func riskScale(level float64) float64 {
	if level <= 0 {
		return 1
	}
	return math.Max(0.2, math.Min(2, level/5))
}

func reason(c Candidate) string {
	r := c.Result
	msg := fmt.Sprintf("%s conf %.2f score %.1f potential %.1f", r.Signal, r.Confidence, r.Score, c.Potential)
	if len(r.ContributingFactors) > 0 {
		msg += ": " + strings.Join(r.ContributingFactors, "; ")
	}
	return msg
}
