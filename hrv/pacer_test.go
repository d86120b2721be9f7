package hrv

import (
	"errors"
	"testing"
)

func TestTickToBreathingRate(t *testing.T) {
	tests := []struct {
		tick int
		want float64
	}{
		{0, 4},
		{1, 4.5},
		{4, 6},
		{6, 7},
	}
	for _, tt := range tests {
		if got := TickToBreathingRate(tt.tick); got != tt.want {
			t.Errorf("TickToBreathingRate(%d) = %v, want %v", tt.tick, got, tt.want)
		}
		if got := BreathingRateToTick(tt.want); got != tt.tick {
			t.Errorf("BreathingRateToTick(%v) = %d, want %d", tt.want, got, tt.tick)
		}
	}
}

func TestValidateBreathingRate(t *testing.T) {
	for _, ok := range []float64{4, 4.5, 6, 7} {
		if err := ValidateBreathingRate(ok); err != nil {
			t.Errorf("ValidateBreathingRate(%v) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []float64{3.5, 7.5, 5.25} {
		if err := ValidateBreathingRate(bad); !errors.Is(err, ErrInvalidBreathingRate) {
			t.Errorf("ValidateBreathingRate(%v) error = %v, want ErrInvalidBreathingRate", bad, err)
		}
	}
}

func TestClampBreathingRate(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{5.3, 5.5},
		{2, 4},
		{9, 7},
		{6, 6},
	}
	for _, tt := range tests {
		if got := ClampBreathingRate(tt.in); got != tt.want {
			t.Errorf("ClampBreathingRate(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
