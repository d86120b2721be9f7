package hrv

import (
	"errors"
	"math"
	"testing"

	"github.com/justapithecus/openhrv/types"
)

func TestScore_HalfAtK(t *testing.T) {
	for target := float64(types.MinHRVTarget); target <= types.MaxHRVTarget; target += types.HRVTargetStep {
		if got := Score(target/2, target); math.Abs(got-0.5) > 1e-12 {
			t.Errorf("Score(%v, %v) = %v, want 0.5", target/2, target, got)
		}
	}
}

func TestScore_ZeroAtZero(t *testing.T) {
	if got := Score(0, types.DefaultHRVTarget); got != 0 {
		t.Errorf("Score(0) = %v, want 0", got)
	}
	if got := Score(-5, types.DefaultHRVTarget); got != 0 {
		t.Errorf("Score(-5) = %v, want 0", got)
	}
}

func TestScore_MonotonicAndBounded(t *testing.T) {
	prev := -1.0
	for x := 0.0; x <= 2000; x += 0.5 {
		got := Score(x, types.DefaultHRVTarget)
		if got < prev {
			t.Fatalf("Score not monotonic at x=%v: %v < %v", x, got, prev)
		}
		if got < 0 || got >= 1 {
			t.Fatalf("Score(%v) = %v outside [0, 1)", x, got)
		}
		prev = got
	}
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		target  float64
		wantErr bool
	}{
		{types.MinHRVTarget, false},
		{types.DefaultHRVTarget, false},
		{types.MaxHRVTarget, false},
		{types.MinHRVTarget - 1, true},
		{types.MaxHRVTarget + 1, true},
		{math.NaN(), true},
	}
	for _, tt := range tests {
		err := ValidateTarget(tt.target)
		if tt.wantErr && !errors.Is(err, ErrTargetOutOfRange) {
			t.Errorf("ValidateTarget(%v) error = %v, want ErrTargetOutOfRange", tt.target, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("ValidateTarget(%v) unexpected error: %v", tt.target, err)
		}
	}
}
