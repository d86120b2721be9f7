package hrv

import (
	"slices"
	"testing"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Push(v)
	}

	if got := r.Values(); !slices.Equal(got, []float64{3, 4, 5}) {
		t.Errorf("Values = %v, want [3 4 5]", got)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Errorf("Len/Cap = %d/%d, want 3/3", r.Len(), r.Cap())
	}
}

func TestRing_At(t *testing.T) {
	r := NewRing(4)
	r.Push(10)
	r.Push(20)

	if v, ok := r.At(1); !ok || v != 20 {
		t.Errorf("At(1) = %v, %v; want 20, true", v, ok)
	}
	if v, ok := r.At(2); !ok || v != 10 {
		t.Errorf("At(2) = %v, %v; want 10, true", v, ok)
	}
	if _, ok := r.At(3); ok {
		t.Error("At(3) should be out of range")
	}
	if _, ok := NewRing(2).Last(); ok {
		t.Error("Last on empty ring should report false")
	}
}

func TestRing_Tail(t *testing.T) {
	r := NewRing(5)
	for _, v := range []float64{1, 2, 3, 4, 5, 6, 7} {
		r.Push(v)
	}

	if got := r.Tail(2); !slices.Equal(got, []float64{6, 7}) {
		t.Errorf("Tail(2) = %v, want [6 7]", got)
	}
	if got := r.Tail(10); !slices.Equal(got, []float64{3, 4, 5, 6, 7}) {
		t.Errorf("Tail(10) = %v, want [3 4 5 6 7]", got)
	}
	if got := r.Tail(0); got != nil {
		t.Errorf("Tail(0) = %v, want nil", got)
	}
}

func TestNewFilledRing(t *testing.T) {
	r := NewFilledRing(3, 1000)
	if got := r.Values(); !slices.Equal(got, []float64{1000, 1000, 1000}) {
		t.Errorf("Values = %v, want all 1000", got)
	}
}

func TestTimeSeries_InitialSeconds(t *testing.T) {
	ts := NewTimeSeries(4, 1000)
	if got := ts.Seconds(); !slices.Equal(got, []float64{-4, -3, -2, -1}) {
		t.Errorf("Seconds = %v, want [-4 -3 -2 -1]", got)
	}
}

func TestTimeSeries_Rebase(t *testing.T) {
	ts := NewTimeSeries(3, 0)
	ts.Append(800, 0.8)
	ts.Append(1200, 1.2)

	want := []float64{-1 - 0.8 - 1.2, -1.2, 0}
	got := ts.Seconds()
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("Seconds = %v, want %v", got, want)
		}
	}
	if v, _ := ts.Last(); v != 1200 {
		t.Errorf("Last = %v, want 1200", v)
	}
}

func TestTimeSeries_RebaseInvariant(t *testing.T) {
	ts := NewTimeSeries(20, 1000)
	durations := []float64{0.9, 1.1, 0.3, 2.0, 0, 0.65, 1.5, 0.273, 0.8, 1.0}

	for n := range 200 {
		ts.Append(float64(n), durations[n%len(durations)])

		secs := ts.Seconds()
		if last := secs[len(secs)-1]; last != 0 {
			t.Fatalf("after %d appends last second = %v, want exactly 0", n+1, last)
		}
		for i := range secs {
			if secs[i] > 0 {
				t.Fatalf("after %d appends seconds[%d] = %v > 0", n+1, i, secs[i])
			}
			if i > 0 && secs[i] < secs[i-1] {
				t.Fatalf("after %d appends seconds not ordered oldest to newest: %v", n+1, secs)
			}
		}
	}
}

func TestTimeSeries_NegativeElapsed(t *testing.T) {
	ts := NewTimeSeries(2, 0)
	ts.Append(1, -5)
	if got := ts.Seconds(); !slices.Equal(got, []float64{-1, 0}) {
		t.Errorf("Seconds = %v, want [-1 0]", got)
	}
}
