// Package scoring holds the tiny shared helpers used to keep every score
// in the pipeline within [0,1], grounded on original_source's
// events/scoring.py clamp_score.
package scoring

// Clamp restricts v to the closed interval [0,1].
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// NormalizeHigh scores a "higher is better" threshold gate: min(v/thr, 1),
// clamped to [0,1]. thr<=0 saturates to 1 when v>0, else 0.
func NormalizeHigh(v, thr float64) float64 {
	if thr <= 0 {
		if v > 0 {
			return 1
		}
		return 0
	}
	return Clamp(v / thr)
}

// NormalizeLow scores a "lower is better" threshold gate: min(thr/v, 1),
// clamped to [0,1]. v<=0 saturates to 1.
func NormalizeLow(v, thr float64) float64 {
	if v <= 0 {
		return 1
	}
	return Clamp(thr / v)
}
