// Package setups implements the SetupEngine: four structured multi-bar
// state machines (DLV, SAF, AFS, PER) sharing the same MicroBar stream,
// each emitting an actionable SignalEvent on firing. Grounded on
// original_source's events/setups.py.
//
// State machines are modelled as a stage enum plus wholesale struct-value
// replacement on every transition — never field-by-field mutation — so
// that a reset path can never leak stage-specific state across cycles,
// per spec.md §9's explicit design note.
package setups

import (
	"math"

	"sublimine-ids/pkg/types"
)

func barDirection(bar types.MicroBar) int { return bar.Direction() }

func barRange(bar types.MicroBar) float64 { return bar.Range() }

// counterWickRatio returns the wick opposing the bar's direction, as a
// fraction of the bar's range.
func counterWickRatio(bar types.MicroBar, dir int) float64 {
	r := barRange(bar)
	if r <= 0 {
		return 0
	}
	if dir > 0 {
		lowerWick := minf(bar.Open, bar.Close) - bar.Low
		return lowerWick / r
	}
	upperWick := bar.High - maxf(bar.Open, bar.Close)
	return upperWick / r
}

// closeOffRatio returns how far the close sits from the directional
// extreme, as a fraction of the bar's range.
func closeOffRatio(bar types.MicroBar, dir int) float64 {
	r := barRange(bar)
	if r <= 0 {
		return 0
	}
	if dir > 0 {
		return (bar.High - bar.Close) / r
	}
	return (bar.Close - bar.Low) / r
}

// overlapRatio returns the overlap between prev and curr's high-low ranges
// as a fraction of curr's range.
func overlapRatio(prev, curr types.MicroBar) float64 {
	r := barRange(curr)
	if r <= 0 {
		return 0
	}
	overlap := minf(prev.High, curr.High) - maxf(prev.Low, curr.Low)
	if overlap < 0 {
		overlap = 0
	}
	return overlap / r
}

// bps converts x relative to base into basis points (1/10,000).
func bps(x, base float64) float64 {
	if base == 0 {
		return 0
	}
	return 10_000 * x / base
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sqrtClamp01(a, b float64) float64 {
	a, b = clamp01(a), clamp01(b)
	return math.Sqrt(a * b)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
