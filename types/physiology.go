package types

// Physiological bounds for inter-beat intervals, in milliseconds.
// 220 bpm and 30 bpm respectively.
const (
	MinIBI = 273
	MaxIBI = 2000
)

// RestingIBI is the value IBI buffers are filled with at startup.
const RestingIBI = 1000

// Buffer capacities.
const (
	// IBIBufferSize spans 60 s of history at MinIBI.
	IBIBufferSize = 220
	// IBIMedianWindow is the number of trailing accepted IBIs the
	// validator takes the median of.
	IBIMedianWindow = 11
	// HRVBufferSize holds the most recent local HRV samples.
	HRVBufferSize = 10
	// MeanHRVBufferSize holds the most recent smoothed HRV values.
	MeanHRVBufferSize = 120
)

// HRV target bounds and defaults.
const (
	MinHRVTarget     = 50
	MaxHRVTarget     = 600
	DefaultHRVTarget = 200
	// HRVTargetStep is the increment used by interactive controls.
	HRVTargetStep = 10
)

// Smoother defaults.
const (
	// HRVSeed is the initial smoothed HRV. Positive so the first
	// biofeedback score is defined and non-degenerate.
	HRVSeed = 1.0
	// DefaultEWMAAlpha is the default smoothing weight.
	DefaultEWMAAlpha = 0.1
)

// Breathing pacer bounds, in breaths per minute.
const (
	MinBreathingRate  = 4.0
	MaxBreathingRate  = 7.0
	BreathingRateStep = 0.5
)

// HillCoefficient is the exponent of the biofeedback transform.
const HillCoefficient = 3

// CompatibleSensors lists name fragments of sensors known to report RR
// intervals.
var CompatibleSensors = []string{"Polar", "Decathlon Dual HR"}
