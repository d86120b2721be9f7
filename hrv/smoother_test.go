package hrv

import (
	"errors"
	"math"
	"testing"

	"github.com/justapithecus/openhrv/types"
)

func TestNewSmoother_RejectsInvalidAlpha(t *testing.T) {
	for _, alpha := range []float64{0, -0.1, 1.01, math.NaN()} {
		if _, err := NewSmoother(alpha); !errors.Is(err, ErrInvalidAlpha) {
			t.Errorf("NewSmoother(%v) error = %v, want ErrInvalidAlpha", alpha, err)
		}
	}
	if _, err := NewSmoother(1); err != nil {
		t.Errorf("NewSmoother(1) failed: %v", err)
	}
}

func TestSmoother_SeededPositive(t *testing.T) {
	s, _ := NewSmoother(0.1)
	if s.Value() <= 0 {
		t.Errorf("seed = %v, want > 0", s.Value())
	}
}

func TestSmoother_Blend(t *testing.T) {
	s, _ := NewSmoother(0.5)
	got, clamped := s.Update(101)
	if clamped {
		t.Error("in-range sample should not be clamped")
	}
	// 0.5*101 + 0.5*1
	if got != 51 {
		t.Errorf("Update(101) = %v, want 51", got)
	}
}

func TestSmoother_ClampsAboveMaxToEstimate(t *testing.T) {
	s, _ := NewSmoother(0.5)
	s.Update(99) // 0.5*99 + 0.5*1 = 50

	got, clamped := s.Update(types.MaxHRVTarget * 10)
	if !clamped {
		t.Error("spike above max should be clamped")
	}
	// raw clamped to ceil(50) = 50, so the estimate does not move
	if got != 50 {
		t.Errorf("Update(spike) = %v, want 50", got)
	}
}

func TestSmoother_NegativeClampedToZero(t *testing.T) {
	s, _ := NewSmoother(1)
	got, clamped := s.Update(-20)
	if !clamped || got != 0 {
		t.Errorf("Update(-20) = %v, %v; want 0, true", got, clamped)
	}
}

func TestSmoother_SpikeHasBoundedInfluence(t *testing.T) {
	s, _ := NewSmoother(0.2)
	for range 200 {
		s.Update(80)
	}
	before := s.Value()

	for _, spike := range []float64{types.MaxHRVTarget, 5000} {
		got, _ := s.Update(spike)
		if got >= spike {
			t.Fatalf("estimate jumped to spike: %v", got)
		}
		if got-before > 0.2*types.MaxHRVTarget+1e-9 {
			t.Fatalf("spike moved estimate by %v, more than alpha*max", got-before)
		}

		for range 100 {
			s.Update(80)
		}
		if diff := math.Abs(s.Value() - before); diff > 0.01 {
			t.Errorf("estimate did not converge back: %v vs %v", s.Value(), before)
		}
	}
}

func TestSmoother_SetAlpha(t *testing.T) {
	s, _ := NewSmoother(0.1)
	if err := s.SetAlpha(2); !errors.Is(err, ErrInvalidAlpha) {
		t.Errorf("SetAlpha(2) error = %v, want ErrInvalidAlpha", err)
	}
	if s.Alpha() != 0.1 {
		t.Errorf("Alpha after rejected set = %v, want 0.1", s.Alpha())
	}
	if err := s.SetAlpha(0.3); err != nil || s.Alpha() != 0.3 {
		t.Errorf("SetAlpha(0.3) = %v, Alpha = %v", err, s.Alpha())
	}
}
