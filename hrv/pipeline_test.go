package hrv

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

func newTestPipeline(t *testing.T) (*Pipeline, *metrics.Collector) {
	t.Helper()
	m := metrics.NewCollector("sim", "none", "test")
	cfg := DefaultConfig()
	cfg.Metrics = m
	cfg.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, m
}

func eventTypes(events []*types.Event) []types.EventType {
	out := make([]types.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestNewPipeline_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alpha = 0
	if _, err := NewPipeline(cfg); !errors.Is(err, ErrInvalidAlpha) {
		t.Errorf("alpha 0: error = %v, want ErrInvalidAlpha", err)
	}

	cfg = DefaultConfig()
	cfg.Target = 10
	if _, err := NewPipeline(cfg); !errors.Is(err, ErrTargetOutOfRange) {
		t.Errorf("target 10: error = %v, want ErrTargetOutOfRange", err)
	}

	cfg = DefaultConfig()
	cfg.BreathingRate = 12
	if _, err := NewPipeline(cfg); !errors.Is(err, ErrInvalidBreathingRate) {
		t.Errorf("rate 12: error = %v, want ErrInvalidBreathingRate", err)
	}
}

func TestPipeline_IBIEventEveryBeat(t *testing.T) {
	p, _ := newTestPipeline(t)

	events := p.Process(1000) // equal to the resting fill: plateau, no reversal
	if len(events) != 1 || events[0].Type != types.EventTypeIBI {
		t.Fatalf("events = %v, want one ibi_update", eventTypes(events))
	}

	e := events[0]
	if e.Series != types.SeriesIBI {
		t.Errorf("Series = %q, want %q", e.Series, types.SeriesIBI)
	}
	if e.Value != 1000 {
		t.Errorf("Value = %v, want 1000", e.Value)
	}
	if len(e.Values) != types.IBIBufferSize || len(e.Seconds) != types.IBIBufferSize {
		t.Errorf("series lengths = %d/%d, want %d", len(e.Values), len(e.Seconds), types.IBIBufferSize)
	}
	if e.Seconds[len(e.Seconds)-1] != 0 {
		t.Errorf("newest second = %v, want 0", e.Seconds[len(e.Seconds)-1])
	}
}

func TestPipeline_ReversalEmitsHRVAndBiofeedback(t *testing.T) {
	p, m := newTestPipeline(t)

	// Falling from the resting fill continues the assumed phase; the rise
	// that follows is the warm-up reversal at the 900 trough.
	p.Process(900)
	events := p.Process(1000)

	got := eventTypes(events)
	want := []types.EventType{types.EventTypeIBI, types.EventTypeHRV, types.EventTypeBiofeedback}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	hrvEvent := events[1]
	if len(hrvEvent.Values) != types.MeanHRVBufferSize {
		t.Errorf("HRV series length = %d, want %d", len(hrvEvent.Values), types.MeanHRVBufferSize)
	}
	snap := p.Snapshot()
	if hrvEvent.Value != snap.SmoothedHRV {
		t.Errorf("HRV event value = %v, want smoothed %v", hrvEvent.Value, snap.SmoothedHRV)
	}
	if events[2].Value != Score(snap.SmoothedHRV, snap.Target) {
		t.Errorf("biofeedback = %v, want %v", events[2].Value, Score(snap.SmoothedHRV, snap.Target))
	}
	if m.Snapshot().Reversals != 1 {
		t.Errorf("Reversals = %d, want 1", m.Snapshot().Reversals)
	}
}

func TestPipeline_CorrectsInvalidIBI(t *testing.T) {
	p, m := newTestPipeline(t)

	events := p.Process(5000)
	if events[0].Value != types.RestingIBI {
		t.Errorf("corrected IBI = %v, want %d", events[0].Value, types.RestingIBI)
	}
	if m.Snapshot().IBIsCorrected != 1 {
		t.Errorf("IBIsCorrected = %d, want 1", m.Snapshot().IBIsCorrected)
	}
}

func TestPipeline_SinusoidProducesBoundedScore(t *testing.T) {
	p, _ := newTestPipeline(t)

	var hrvEvents int
	for i := range 600 {
		ibi := 1000 + int(100*math.Sin(2*math.Pi*float64(i)/10))
		for _, e := range p.Process(ibi) {
			switch e.Type {
			case types.EventTypeHRV:
				hrvEvents++
				if e.Value < 0 {
					t.Fatalf("smoothed HRV negative: %v", e.Value)
				}
			case types.EventTypeBiofeedback:
				if e.Value < 0 || e.Value >= 1 {
					t.Fatalf("score out of range: %v", e.Value)
				}
			}
		}
	}

	if hrvEvents == 0 {
		t.Fatal("expected HRV events for an oscillating signal")
	}
	// Peak-to-trough swing is about 200 ms, so the estimate settles near it.
	if hrv := p.Snapshot().SmoothedHRV; hrv < 150 || hrv > 250 {
		t.Errorf("SmoothedHRV = %v, want roughly 190", hrv)
	}
}

func TestPipeline_SetTarget(t *testing.T) {
	p, _ := newTestPipeline(t)

	e, err := p.SetTarget(300)
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}
	if e.Type != types.EventTypeTarget || e.Value != 300 {
		t.Errorf("event = %+v, want target_update 300", e)
	}
	if _, err := p.SetTarget(1000); !errors.Is(err, ErrTargetOutOfRange) {
		t.Errorf("SetTarget(1000) error = %v, want ErrTargetOutOfRange", err)
	}
	if p.Snapshot().Target != 300 {
		t.Errorf("Target = %v, want 300 after rejected update", p.Snapshot().Target)
	}
}

func TestPipeline_SetBreathingRate(t *testing.T) {
	p, _ := newTestPipeline(t)

	e, err := p.SetBreathingRate(5.5)
	if err != nil {
		t.Fatalf("SetBreathingRate failed: %v", err)
	}
	if e.Series != types.SeriesPacer || e.Value != 5.5 {
		t.Errorf("event = %+v, want PacerRate 5.5", e)
	}
	if _, err := p.SetBreathingRate(3); !errors.Is(err, ErrInvalidBreathingRate) {
		t.Errorf("SetBreathingRate(3) error = %v, want ErrInvalidBreathingRate", err)
	}
}

func TestPipeline_SetSmoothingParam(t *testing.T) {
	p, _ := newTestPipeline(t)

	if err := p.SetSmoothingParam(0.5); err != nil {
		t.Fatalf("SetSmoothingParam failed: %v", err)
	}
	if p.Snapshot().Alpha != 0.5 {
		t.Errorf("Alpha = %v, want 0.5", p.Snapshot().Alpha)
	}
	if err := p.SetSmoothingParam(0); !errors.Is(err, ErrInvalidAlpha) {
		t.Errorf("SetSmoothingParam(0) error = %v, want ErrInvalidAlpha", err)
	}
}
