package hrv

import (
	"testing"

	"github.com/justapithecus/openhrv/types"
)

func TestValidator_AcceptsInBounds(t *testing.T) {
	v := NewValidator()
	for _, raw := range []int{types.MinIBI, 800, 1000, types.MaxIBI} {
		got, corrected := v.Validate(raw)
		if got != raw || corrected {
			t.Errorf("Validate(%d) = %d, %v; want %d, false", raw, got, corrected, raw)
		}
	}
}

func TestValidator_ReplacesWithTrailingMedian(t *testing.T) {
	v := NewValidator()
	accepted := []int{600, 650, 700, 750, 800, 850, 900, 950, 1000, 1050, 1100}
	for _, ibi := range accepted {
		v.Validate(ibi)
	}

	for _, raw := range []int{0, 100, 272, 2001, 5000, -3} {
		got, corrected := v.Validate(raw)
		if !corrected {
			t.Errorf("Validate(%d) not flagged as corrected", raw)
		}
		if got < types.MinIBI || got > types.MaxIBI {
			t.Errorf("Validate(%d) = %d, out of bounds", raw, got)
		}
		// Replacements enter the history, so the window shifts toward the
		// median with each correction. The first one is the plain median.
		if raw == 0 && got != 850 {
			t.Errorf("Validate(0) = %d, want median 850", got)
		}
	}
}

func TestValidator_MedianOfBoundaryHistory(t *testing.T) {
	tests := []struct {
		name    string
		history int
		want    int
	}{
		// History at the edges: bounds themselves are accepted, so the
		// median sits exactly on the bound.
		{"low history", types.MinIBI, types.MinIBI},
		{"high history", types.MaxIBI, types.MaxIBI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			for range types.IBIMedianWindow {
				v.Validate(tt.history)
			}
			got, _ := v.Validate(10_000)
			if got != tt.want {
				t.Errorf("Validate(10000) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidator_InitialMedianIsResting(t *testing.T) {
	v := NewValidator()
	got, corrected := v.Validate(50)
	if !corrected || got != types.RestingIBI {
		t.Errorf("Validate(50) on fresh validator = %d, %v; want %d, true", got, corrected, types.RestingIBI)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want int
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 3}, // (2+3)/2 = 2.5 rounds half away from zero
		{[]float64{1000}, 1000},
		{nil, types.RestingIBI},
	}
	for _, tt := range tests {
		if got := median(tt.in); got != tt.want {
			t.Errorf("median(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClampIBI(t *testing.T) {
	if got := clampIBI(100); got != types.MinIBI {
		t.Errorf("clampIBI(100) = %d, want %d", got, types.MinIBI)
	}
	if got := clampIBI(3000); got != types.MaxIBI {
		t.Errorf("clampIBI(3000) = %d, want %d", got, types.MaxIBI)
	}
}
