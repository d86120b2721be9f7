package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

type fakeAdapter struct {
	mu     sync.Mutex
	events []*types.Event
	err    error
	closed bool
}

func (a *fakeAdapter) Publish(_ context.Context, e *types.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, e)
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) received() []*types.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*types.Event(nil), a.events...)
}

func TestDispatcher_FansOutAndCountsFailures(t *testing.T) {
	good := &fakeAdapter{}
	bad := &fakeAdapter{err: errors.New("broker unavailable")}
	collector := metrics.NewCollector("sim", "", "sess-1")
	d := NewDispatcher(DispatchConfig{Parallel: 1}, []Target{
		{Name: "good", Adapter: good},
		{Name: "bad", Adapter: bad},
	}, nil, collector)

	events := make(chan *types.Event, 8)
	for i := range 5 {
		ev := types.NewBiofeedback(time.Now(), 0.1*float64(i))
		ev.Seq = int64(i + 1)
		events <- ev
	}
	stop := make(chan struct{})
	close(stop)
	d.Run(t.Context(), events, stop)

	got := good.received()
	if len(got) != 5 {
		t.Fatalf("good adapter got %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	res := d.Results()
	if res.Received != 5 || res.Published != 5 || res.Failed != 5 {
		t.Errorf("results = %+v", res)
	}
	if res.FailedByTarget["bad"] != 5 {
		t.Errorf("FailedByTarget = %v", res.FailedByTarget)
	}
	if got := collector.Snapshot().AdapterErrors; got != 5 {
		t.Errorf("AdapterErrors = %d, want 5", got)
	}
}

func TestDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(DispatchConfig{}, nil, nil, nil)
	want := DefaultDispatchConfig()
	if d.config != want {
		t.Errorf("config = %+v, want %+v", d.config, want)
	}
}

func TestEngine_DispatchesToTargetsAndClosesThem(t *testing.T) {
	target := &fakeAdapter{}
	e, err := New(Config{
		Transport: fastSim(),
		Link:      testLink(),
		Targets:   []Target{{Name: "fake", Adapter: target}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stop := startEngine(t, e)
	if err := e.SetTargetHRV(300); err != nil {
		t.Fatalf("SetTargetHRV: %v", err)
	}
	res := stop()

	var found bool
	for _, ev := range target.received() {
		if ev.Type == types.EventTypeTarget && ev.Value == 300 {
			found = true
		}
	}
	if !found {
		t.Error("target update not dispatched")
	}
	if res.Dispatch.Published == 0 {
		t.Errorf("Dispatch = %+v", res.Dispatch)
	}
	if !target.closed {
		t.Error("adapter should be closed at shutdown")
	}
}
