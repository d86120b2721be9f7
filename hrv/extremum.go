package hrv

import "math"

// Reversal is one local HRV sample, produced when the IBI trend changes
// direction.
type Reversal struct {
	// HRV is the absolute difference between this extreme and the previous one.
	HRV int
	// Extreme is the IBI at the turning point (the sample before the reversal).
	Extreme int
	// Phase is the new trend direction: 1 rising, -1 falling.
	Phase int
	// Seconds is the duration of the phase that just ended, rounded up.
	Seconds float64
}

// Extractor detects local IBI extrema.
//
// The initial state assumes a falling trend with a previous extreme of 0.
// As a result the first rise after startup is reported as a reversal
// whose HRV equals the trough IBI itself. This warm-up sample is
// expected; consumers smooth it out like any other outlier.
type Extractor struct {
	lastPhase   int
	lastExtreme int
	durationMs  int
}

// NewExtractor creates an extractor in its startup state.
func NewExtractor() *Extractor {
	return &Extractor{lastPhase: -1}
}

// Observe consumes the next accepted IBI (cur) given the one before it
// (prev). It reports a Reversal when the trend changes direction; plateaus
// and trend continuations only accumulate phase duration.
func (e *Extractor) Observe(prev, cur int) (Reversal, bool) {
	e.durationMs += cur

	phase := sign(cur - prev)
	if phase == 0 || phase == e.lastPhase {
		return Reversal{}, false
	}

	r := Reversal{
		HRV:     abs(e.lastExtreme - prev),
		Extreme: prev,
		Phase:   phase,
		Seconds: math.Ceil(float64(e.durationMs) / 1000),
	}
	e.durationMs = 0
	e.lastExtreme = prev
	e.lastPhase = phase
	return r, true
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
