package hrv

import (
	"errors"
	"fmt"
	"math"

	"github.com/justapithecus/openhrv/types"
)

// ErrInvalidBreathingRate is returned for rates outside
// [types.MinBreathingRate, types.MaxBreathingRate] or off the 0.5 grid.
var ErrInvalidBreathingRate = errors.New("invalid breathing rate")

// TickToBreathingRate maps a slider tick in [0, 6] to a rate in [4, 7]
// breaths per minute, in steps of 0.5.
func TickToBreathingRate(tick int) float64 {
	return float64(tick+8) / 2
}

// BreathingRateToTick is the inverse of TickToBreathingRate.
func BreathingRateToTick(rate float64) int {
	return int(rate*2 - 8)
}

// ValidateBreathingRate checks that rate lies on the pacer grid.
func ValidateBreathingRate(rate float64) error {
	if rate < types.MinBreathingRate || rate > types.MaxBreathingRate {
		return fmt.Errorf("%w: %v not in [%v, %v]",
			ErrInvalidBreathingRate, rate, types.MinBreathingRate, types.MaxBreathingRate)
	}
	if steps := rate / types.BreathingRateStep; steps != math.Trunc(steps) {
		return fmt.Errorf("%w: %v is not a multiple of %v", ErrInvalidBreathingRate, rate, types.BreathingRateStep)
	}
	return nil
}

// ClampBreathingRate moves rate onto the pacer grid within bounds.
func ClampBreathingRate(rate float64) float64 {
	rate = math.Round(rate/types.BreathingRateStep) * types.BreathingRateStep
	return math.Min(math.Max(rate, types.MinBreathingRate), types.MaxBreathingRate)
}
