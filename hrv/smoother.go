package hrv

import (
	"errors"
	"fmt"
	"math"

	"github.com/justapithecus/openhrv/types"
)

// ErrInvalidAlpha is returned when a smoothing weight is outside (0, 1].
var ErrInvalidAlpha = errors.New("smoothing weight must be in (0, 1]")

// Smoother reduces raw local HRV samples to a stable estimate with an
// exponentially weighted moving average.
//
// Before blending, a raw sample above the maximum HRV target is clamped
// to the ceiling of the current estimate, then into [0, max]. A single
// spike therefore moves the estimate by at most alpha*max.
type Smoother struct {
	alpha    float64
	max      float64
	smoothed float64
}

// NewSmoother creates a smoother seeded with types.HRVSeed.
func NewSmoother(alpha float64) (*Smoother, error) {
	if err := validateAlpha(alpha); err != nil {
		return nil, err
	}
	return &Smoother{
		alpha:    alpha,
		max:      types.MaxHRVTarget,
		smoothed: types.HRVSeed,
	}, nil
}

// Update blends raw into the estimate and returns the new estimate and
// whether raw was clamped.
func (s *Smoother) Update(raw float64) (float64, bool) {
	x := raw
	if x > s.max {
		x = math.Min(x, math.Ceil(s.smoothed))
	}
	x = math.Min(math.Max(x, 0), s.max)

	s.smoothed = s.alpha*x + (1-s.alpha)*s.smoothed
	return s.smoothed, x != raw
}

// Value returns the current estimate.
func (s *Smoother) Value() float64 {
	return s.smoothed
}

// Alpha returns the smoothing weight.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// SetAlpha changes the smoothing weight. The estimate is kept.
func (s *Smoother) SetAlpha(alpha float64) error {
	if err := validateAlpha(alpha); err != nil {
		return err
	}
	s.alpha = alpha
	return nil
}

func validateAlpha(alpha float64) error {
	if !(alpha > 0 && alpha <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	return nil
}
