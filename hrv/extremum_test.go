package hrv

import (
	"slices"
	"testing"
)

// feed runs ibis through e, treating the first element as history.
func feed(e *Extractor, ibis []int) []Reversal {
	var out []Reversal
	for i := 1; i < len(ibis); i++ {
		if r, ok := e.Observe(ibis[i-1], ibis[i]); ok {
			out = append(out, r)
		}
	}
	return out
}

func TestExtractor_NoDirectionChange(t *testing.T) {
	tests := []struct {
		name string
		ibis []int
	}{
		{"constant", []int{1000, 1000, 1000, 1000}},
		{"falling", []int{1200, 1100, 1000, 900, 800}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := feed(NewExtractor(), tt.ibis); len(got) != 0 {
				t.Errorf("got %d reversals, want 0: %+v", len(got), got)
			}
		})
	}
}

func TestExtractor_MonotonicRiseAfterWarmup(t *testing.T) {
	e := NewExtractor()
	feed(e, []int{900, 800, 850}) // establishes a rising phase

	if got := feed(e, []int{850, 900, 950, 1000, 1000, 1100}); len(got) != 0 {
		t.Errorf("rising sequence produced %d reversals, want 0: %+v", len(got), got)
	}
}

func TestExtractor_SingleReversal(t *testing.T) {
	e := NewExtractor()
	// Trough at 800 establishes last extreme = 800 and a rising phase.
	feed(e, []int{900, 800, 1000})

	got := feed(e, []int{1000, 1050, 1000})
	if len(got) != 1 {
		t.Fatalf("got %d reversals, want 1: %+v", len(got), got)
	}
	r := got[0]
	if r.Extreme != 1050 {
		t.Errorf("Extreme = %d, want 1050", r.Extreme)
	}
	if r.HRV != 250 {
		t.Errorf("HRV = %d, want |800-1050| = 250", r.HRV)
	}
	if r.Phase != -1 {
		t.Errorf("Phase = %d, want -1", r.Phase)
	}
}

func TestExtractor_WarmupTransient(t *testing.T) {
	// From the startup state the first rise is itself a reversal measured
	// against a previous extreme of 0.
	got := feed(NewExtractor(), []int{1000, 1050, 1000})

	hrvs := make([]int, len(got))
	for i, r := range got {
		hrvs[i] = r.HRV
	}
	if !slices.Equal(hrvs, []int{1000, 50}) {
		t.Errorf("HRVs = %v, want [1000 50]", hrvs)
	}
}

func TestExtractor_PlateauDoesNotReverse(t *testing.T) {
	e := NewExtractor()
	feed(e, []int{900, 800, 1000}) // rising

	got := feed(e, []int{1000, 1000, 1000, 1100})
	if len(got) != 0 {
		t.Errorf("plateau inside rising phase produced %+v", got)
	}
}

func TestExtractor_PhaseDuration(t *testing.T) {
	e := NewExtractor()
	feed(e, []int{900, 800, 1000}) // reversal at 800, duration reset after 1000 was added

	// Rising phase continues through 1200 and 1300, reverses at 1100.
	got := feed(e, []int{1000, 1200, 1300, 1100})
	if len(got) != 1 {
		t.Fatalf("got %d reversals, want 1", len(got))
	}
	// 1200 + 1300 + 1100 = 3600 ms -> 4 s
	if got[0].Seconds != 4 {
		t.Errorf("Seconds = %v, want 4", got[0].Seconds)
	}
	if got[0].HRV != 500 {
		t.Errorf("HRV = %d, want |800-1300| = 500", got[0].HRV)
	}
}
