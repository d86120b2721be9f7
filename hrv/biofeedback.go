package hrv

import (
	"errors"
	"fmt"
	"math"

	"github.com/justapithecus/openhrv/types"
)

// ErrTargetOutOfRange is returned when an HRV target is outside
// [types.MinHRVTarget, types.MaxHRVTarget].
var ErrTargetOutOfRange = errors.New("hrv target out of range")

// Score maps a smoothed HRV to a reward in [0, 1) with a Hill equation:
//
//	x^n / (K^n + x^n),  K = target/2, n = types.HillCoefficient
//
// Score(target/2, target) is exactly 0.5. Negative x scores 0.
func Score(x, target float64) float64 {
	if x <= 0 {
		return 0
	}
	k := target / 2
	xn := math.Pow(x, types.HillCoefficient)
	return xn / (math.Pow(k, types.HillCoefficient) + xn)
}

// ValidateTarget checks an HRV target against the configured bounds.
func ValidateTarget(target float64) error {
	if math.IsNaN(target) || target < types.MinHRVTarget || target > types.MaxHRVTarget {
		return fmt.Errorf("%w: %v not in [%d, %d]",
			ErrTargetOutOfRange, target, types.MinHRVTarget, types.MaxHRVTarget)
	}
	return nil
}
