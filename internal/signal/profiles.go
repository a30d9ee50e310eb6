package signal

import "strings"

// Level maps every 24h change at or above MinChange to an oscillator Value.
type Level struct {
	MinChange float64
	Value     float64
}

// Profile holds the tunables of the heuristic scorer.
type Profile struct {
	Name string

	// OscillatorSteps must be ordered by MinChange, highest first.
	OscillatorSteps []Level
	OscillatorFloor float64
	OversoldLevel   float64
	OverboughtLevel float64

	MomentumScale float64 // percent change that saturates momentum at 1

	ReferenceVolume float64
	StrongVolume    float64
	WeakVolume      float64

	MinTrend float64

	SupportBand    float64
	ResistanceBand float64
	NearBand       float64

	MediumVolatility float64 // abs percent change
	HighVolatility   float64
}

const DefaultProfile = "balanced"

var defaultSteps = []Level{
	{MinChange: 10, Value: 85},
	{MinChange: 6, Value: 75},
	{MinChange: 3, Value: 65},
	{MinChange: 0, Value: 48},
	{MinChange: -3, Value: 40},
	{MinChange: -6, Value: 30},
	{MinChange: -10, Value: 22},
}

var profiles = map[string]Profile{
	"balanced": {
		Name:             "balanced",
		OscillatorSteps:  defaultSteps,
		OscillatorFloor:  15,
		OversoldLevel:    50,
		OverboughtLevel:  70,
		MomentumScale:    10,
		ReferenceVolume:  1_000_000,
		StrongVolume:     1.2,
		WeakVolume:       0.5,
		MinTrend:         5,
		SupportBand:      0.03,
		ResistanceBand:   0.05,
		NearBand:         0.02,
		MediumVolatility: 3,
		HighVolatility:   8,
	},
	"aggressive": {
		Name:             "aggressive",
		OscillatorSteps:  defaultSteps,
		OscillatorFloor:  15,
		OversoldLevel:    55,
		OverboughtLevel:  78,
		MomentumScale:    8,
		ReferenceVolume:  750_000,
		StrongVolume:     1.1,
		WeakVolume:       0.4,
		MinTrend:         4.5,
		SupportBand:      0.02,
		ResistanceBand:   0.06,
		NearBand:         0.025,
		MediumVolatility: 4,
		HighVolatility:   10,
	},
	"conservative": {
		Name:             "conservative",
		OscillatorSteps:  defaultSteps,
		OscillatorFloor:  15,
		OversoldLevel:    45,
		OverboughtLevel:  65,
		MomentumScale:    12,
		ReferenceVolume:  1_500_000,
		StrongVolume:     1.5,
		WeakVolume:       0.6,
		MinTrend:         6,
		SupportBand:      0.04,
		ResistanceBand:   0.04,
		NearBand:         0.015,
		MediumVolatility: 2.5,
		HighVolatility:   6,
	},
}

// ProfileByName returns the named profile and whether it exists.
func ProfileByName(name string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ProfileNames lists the registered profiles.
func ProfileNames() []string {
	return []string{"aggressive", "balanced", "conservative"}
}

// ForStrategy returns the analyzer for a strategy id. Unknown ids use the default profile.
func ForStrategy(strategyID string) Analyzer {
	p, ok := ProfileByName(strategyID)
	if !ok {
		p = profiles[DefaultProfile]
	}
	return NewHeuristic(p)
}
