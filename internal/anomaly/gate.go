// Package anomaly implements the node's threshold logic for deciding
// whether a spectrogram is worth transmitting over the radio link.
package anomaly

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Profile selects which threshold table the Gate enforces.
type Profile string

const (
	ProfileDemo       Profile = "demo"
	ProfileProduction Profile = "production"
)

// Thresholds holds the tunable values for one operating profile. The
// zero-value profile-specific defaults come from spec.md's Anomaly Gate
// table.
type Thresholds struct {
	EnergyRatio      float64 // fraction of full 0..255 scale the grid's total energy must exceed
	LowBandRatio     float64
	MidBandRatio     float64
	HighBandRatio    float64
	MaxCV            float64
	RequireHighGELow bool // demo: high-band energy must be >= low-band energy
	ConsecutiveHits  int
	Cooldown         time.Duration
}

// DemoThresholds returns the spec's Demo profile table.
func DemoThresholds() Thresholds {
	return Thresholds{
		EnergyRatio:      0.80,
		HighBandRatio:    0.22,
		MaxCV:            0.05,
		RequireHighGELow: true,
		ConsecutiveHits:  4,
		Cooldown:         10 * time.Second,
	}
}

// ProductionThresholds returns the spec's Production profile table.
func ProductionThresholds() Thresholds {
	return Thresholds{
		EnergyRatio:     0.40,
		LowBandRatio:    0.20,
		MidBandRatio:    0.30,
		HighBandRatio:   0.10,
		MaxCV:           0.3,
		ConsecutiveHits: 4,
		Cooldown:        30 * time.Second,
	}
}

// ThresholdsFor returns the default table for the named profile.
func ThresholdsFor(p Profile) Thresholds {
	if p == ProfileDemo {
		return DemoThresholds()
	}
	return ProductionThresholds()
}

// hitWindow is the rolling window consecutive hits must fall within.
const hitWindow = 3 * time.Second

// Gate tracks consecutive-hit and cooldown state across successive
// Evaluate calls for one node.
type Gate struct {
	profile     Profile
	thresholds  Thresholds
	hits        []time.Time
	cooldownEnd time.Time
}

// New constructs a Gate for the given profile using its default
// thresholds. Thresholds can be overridden via SetThresholds.
func New(profile Profile) *Gate {
	return &Gate{profile: profile, thresholds: ThresholdsFor(profile)}
}

// SetThresholds overrides the gate's threshold table, e.g. from
// configuration (ANOMALY_PROFILE, CONSECUTIVE_HITS, TX_COOLDOWN_MS).
func (g *Gate) SetThresholds(t Thresholds) {
	g.thresholds = t
}

// bandEnergies computes per-band energy sums over a W×H row-major grid
// where row 0 is the highest frequency band (post vertical-flip layout).
func bandEnergies(grid []byte, w, h int) (low, mid, high, total float64) {
	quarter := h / 4
	for row := 0; row < h; row++ {
		var rowSum float64
		for col := 0; col < w; col++ {
			rowSum += float64(grid[row*w+col])
		}
		total += rowSum
		switch {
		case row < quarter:
			high += rowSum
		case row >= h-quarter:
			low += rowSum
		default:
			mid += rowSum
		}
	}
	return low, mid, high, total
}

// frameEnergies sums each column (time frame) of the grid.
func frameEnergies(grid []byte, w, h int) []float64 {
	energies := make([]float64, w)
	for col := 0; col < w; col++ {
		var sum float64
		for row := 0; row < h; row++ {
			sum += float64(grid[row*w+col])
		}
		energies[col] = sum
	}
	return energies
}

// evaluateCondition applies the profile's per-window band/energy/CV test,
// independent of the consecutive-hit and cooldown state machine.
func (g *Gate) evaluateCondition(grid []byte, w, h int) bool {
	low, mid, high, total := bandEnergies(grid, w, h)
	if total <= 0 {
		return false
	}
	fullScale := 255.0 * float64(w*h)
	energyRatio := total / fullScale

	frames := frameEnergies(grid, w, h)
	mean, std := stat.MeanStdDev(frames, nil)
	var cv float64
	if mean > 0 {
		cv = std / mean
	}

	lowRatio := low / total
	midRatio := mid / total
	highRatio := high / total

	t := g.thresholds
	if energyRatio <= t.EnergyRatio {
		return false
	}
	if cv >= t.MaxCV {
		return false
	}

	if g.profile == ProfileDemo {
		if highRatio <= t.HighBandRatio {
			return false
		}
		if t.RequireHighGELow && highRatio < lowRatio {
			return false
		}
		return true
	}

	// Production: low-band ratio + broadband sustained energy.
	if lowRatio <= t.LowBandRatio {
		return false
	}
	if !(lowRatio > 0.15 && midRatio > 0.30 && highRatio > 0.10) {
		return false
	}
	return true
}

// Evaluate runs one window's grid through the gate. It returns true the
// instant an Anomaly should be emitted: the profile's condition has fired
// on ConsecutiveHits successive windows within the 3-second hit window,
// and the post-emission cooldown has elapsed.
func (g *Gate) Evaluate(grid []byte, w, h int, now time.Time) bool {
	if !g.evaluateCondition(grid, w, h) {
		g.hits = nil
		return false
	}

	g.hits = append(g.hits, now)
	cutoff := now.Add(-hitWindow)
	kept := g.hits[:0]
	for _, ts := range g.hits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.hits = kept

	if len(g.hits) < g.thresholds.ConsecutiveHits {
		return false
	}
	if now.Before(g.cooldownEnd) {
		return false
	}

	g.cooldownEnd = now.Add(g.thresholds.Cooldown)
	g.hits = nil
	return true
}
