// Package hrv implements the streaming heart rate variability pipeline:
// IBI validation, local-extremum HRV extraction, EWMA smoothing and the
// biofeedback score.
//
// Every type in this package is single-threaded. A Pipeline is owned by
// exactly one goroutine; see the engine package.
package hrv

import (
	"math"
	"slices"

	"github.com/justapithecus/openhrv/types"
)

// Validator replaces physiologically impossible IBIs.
//
// A sample within [types.MinIBI, types.MaxIBI] is accepted unchanged.
// Anything else is replaced by the median of the most recent accepted
// samples. The history only holds in-bounds values, so the median never
// needs the clamp applied to it. Validate never fails.
type Validator struct {
	history *Ring
}

// NewValidator creates a validator whose median window starts filled
// with the resting IBI.
func NewValidator() *Validator {
	return &Validator{
		history: NewFilledRing(types.IBIMedianWindow, types.RestingIBI),
	}
}

// Validate returns the accepted IBI and whether it was corrected.
func (v *Validator) Validate(raw int) (int, bool) {
	accepted := raw
	corrected := false
	if raw < types.MinIBI || raw > types.MaxIBI {
		accepted = clampIBI(median(v.history.Values()))
		corrected = true
	}
	v.history.Push(float64(accepted))
	return accepted, corrected
}

// median returns the median of values rounded to the nearest integer.
// For an even count it is the mean of the two middle values.
func median(values []float64) int {
	if len(values) == 0 {
		return types.RestingIBI
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return int(math.Round(sorted[mid]))
	}
	return int(math.Round((sorted[mid-1] + sorted[mid]) / 2))
}

func clampIBI(ibi int) int {
	return min(max(ibi, types.MinIBI), types.MaxIBI)
}
