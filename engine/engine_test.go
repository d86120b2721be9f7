package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/openhrv/gatt"
	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/lode"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/sensor"
	"github.com/justapithecus/openhrv/types"
)

func fastSim() *sensor.Sim {
	cfg := sensor.DefaultSimConfig()
	cfg.Speed = 1000
	return sensor.NewSim(cfg)
}

func testLink() sensor.LinkConfig {
	return sensor.LinkConfig{RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}
}

// startEngine runs e in the background and returns a stop function that
// cancels it and returns the result.
func startEngine(t *testing.T, e *Engine) func() *Result {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Run(ctx)
		done <- outcome{res, err}
	}()
	return func() *Result {
		cancel()
		select {
		case o := <-done:
			if o.err != nil {
				t.Fatalf("Run: %v", o.err)
			}
			return o.res
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
}

// waitEvents collects events of type want until n have arrived.
func waitEvents(t *testing.T, ch <-chan *types.Event, want types.EventType, n int) []*types.Event {
	t.Helper()
	var got []*types.Event
	deadline := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev := <-ch:
			if ev.Type == want {
				got = append(got, ev)
			}
		case <-deadline:
			t.Fatalf("got %d %s events, want %d", len(got), want, n)
		}
	}
	return got
}

func TestEngine_SimulatedSession(t *testing.T) {
	client := lode.NewStubClient()
	e, err := New(Config{
		Transport: fastSim(),
		Link:      testLink(),
		Pipeline:  hrv.DefaultConfig(),
		Policy:    policy.NewStrictPolicy(lode.NewSink(client)),
		Summary:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	observed := make(chan *types.Event, 4096)
	if err := e.Bus().Subscribe("observer", observed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	stop := startEngine(t, e)
	if err := e.RequestConnect("sim-1"); err != nil {
		t.Fatalf("RequestConnect: %v", err)
	}

	scores := waitEvents(t, observed, types.EventTypeBiofeedback, 3)
	for _, ev := range scores {
		if ev.Value < 0 || ev.Value >= 1 {
			t.Errorf("score %v out of [0,1)", ev.Value)
		}
		if ev.Series != types.SeriesBiofeedback {
			t.Errorf("series = %q, want %q", ev.Series, types.SeriesBiofeedback)
		}
	}

	res := stop()

	if res.PersistErr != nil {
		t.Errorf("PersistErr = %v", res.PersistErr)
	}
	if res.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode())
	}
	if res.Metrics.PacketsReceived == 0 || res.Metrics.Reversals == 0 {
		t.Errorf("metrics = %+v, want packets and reversals", res.Metrics)
	}
	if res.Policy == nil {
		t.Fatal("Policy stats missing")
	}
	if res.Policy.EventsPersisted != res.Policy.TotalEvents {
		t.Errorf("persisted %d of %d events", res.Policy.EventsPersisted, res.Policy.TotalEvents)
	}
	if res.Metrics.EventsPersisted != res.Policy.EventsPersisted {
		t.Errorf("metrics did not absorb policy stats: %d vs %d",
			res.Metrics.EventsPersisted, res.Policy.EventsPersisted)
	}
	if len(client.Summaries) != 1 {
		t.Errorf("summaries = %d, want 1", len(client.Summaries))
	}
	if !client.Closed {
		t.Error("policy close should close the lode client")
	}
	if e.State() != types.StateIdle {
		t.Errorf("state = %s, want idle", e.State())
	}
}

func TestEngine_PersistsIBIsInOrder(t *testing.T) {
	sink := policy.NewStubSink()
	e, err := New(Config{
		Transport: fastSim(),
		Link:      testLink(),
		Pipeline:  hrv.DefaultConfig(),
		Policy:    policy.NewStrictPolicy(sink),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	observed := make(chan *types.Event, 4096)
	if err := e.Bus().Subscribe("observer", observed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	stop := startEngine(t, e)
	if err := e.RequestConnect("sim-1"); err != nil {
		t.Fatalf("RequestConnect: %v", err)
	}
	waitEvents(t, observed, types.EventTypeIBI, 20)
	stop()

	var ibis []*types.Event
	for _, ev := range sink.Events() {
		if ev.Type == types.EventTypeIBI {
			ibis = append(ibis, ev)
		}
	}
	if len(ibis) < 20 {
		t.Fatalf("persisted %d IBI events, want at least 20", len(ibis))
	}
	for i := 1; i < len(ibis); i++ {
		if ibis[i].Seq <= ibis[i-1].Seq {
			t.Fatalf("seq not increasing at %d: %d after %d", i, ibis[i].Seq, ibis[i-1].Seq)
		}
	}
}

func TestEngine_PersistFailureSetsExitCode(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetError(errors.New("disk full"))
	e, err := New(Config{
		Transport: fastSim(),
		Pipeline:  hrv.DefaultConfig(),
		Policy:    policy.NewStrictPolicy(sink),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stop := startEngine(t, e)
	if err := e.SetTargetHRV(150); err != nil {
		t.Fatalf("SetTargetHRV: %v", err)
	}
	res := stop()

	if !IsPersistError(res.PersistErr) {
		t.Fatalf("PersistErr = %v, want PersistError", res.PersistErr)
	}
	if res.PersistFailures < 3 {
		t.Errorf("PersistFailures = %d, want at least 3", res.PersistFailures)
	}
	if res.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode())
	}
}

func TestEngine_ControlCommands(t *testing.T) {
	e, err := New(Config{Transport: fastSim(), Pipeline: hrv.DefaultConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	observed := make(chan *types.Event, 64)
	if err := e.Bus().Subscribe("observer", observed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	stop := startEngine(t, e)

	if err := e.SetTargetHRV(100); err != nil {
		t.Fatalf("SetTargetHRV: %v", err)
	}
	if got := e.Snapshot().Target; got != 100 {
		t.Errorf("Target = %v, want 100", got)
	}
	if err := e.SetTargetHRV(10); !errors.Is(err, hrv.ErrTargetOutOfRange) {
		t.Errorf("SetTargetHRV(10) = %v, want ErrTargetOutOfRange", err)
	}
	if got := e.Snapshot().Target; got != 100 {
		t.Errorf("rejected target changed state: %v", got)
	}

	if err := e.SetBreathingRate(5.5); err != nil {
		t.Fatalf("SetBreathingRate: %v", err)
	}
	if err := e.SetBreathingRate(5.2); !errors.Is(err, hrv.ErrInvalidBreathingRate) {
		t.Errorf("SetBreathingRate(5.2) = %v, want ErrInvalidBreathingRate", err)
	}
	if err := e.SetSmoothingParam(0.5); err != nil {
		t.Fatalf("SetSmoothingParam: %v", err)
	}
	if err := e.SetSmoothingParam(0); err == nil {
		t.Error("SetSmoothingParam(0) should fail")
	}
	snap := e.Snapshot()
	if snap.BreathingRate != 5.5 || snap.Alpha != 0.5 {
		t.Errorf("snapshot = %+v", snap)
	}

	targets := waitEvents(t, observed, types.EventTypeTarget, 2)
	if targets[1].Value != 100 || targets[1].Series != types.SeriesTarget {
		t.Errorf("target event = %+v", targets[1])
	}

	stop()

	if err := e.SetTargetHRV(120); !errors.Is(err, ErrStopped) {
		t.Errorf("SetTargetHRV after stop = %v, want ErrStopped", err)
	}
	if _, err := e.Run(t.Context()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestEngine_Scan(t *testing.T) {
	e, err := New(Config{Transport: fastSim(), Pipeline: hrv.DefaultConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	found, err := e.Scan(t.Context(), time.Second)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(found) != 3 {
		t.Errorf("found %d sensors, want 3", len(found))
	}

	replay, err := New(Config{Transport: sensor.NewReplay("unused.cap", 0), Pipeline: hrv.DefaultConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := replay.Scan(t.Context(), time.Second); !errors.Is(err, ErrScanUnsupported) {
		t.Errorf("replay Scan = %v, want ErrScanUnsupported", err)
	}
}

func TestEngine_HandleNotificationCounters(t *testing.T) {
	e, err := New(Config{Transport: fastSim(), Pipeline: hrv.DefaultConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.handleNotification(nil)
	e.handleNotification(gatt.Encode(&gatt.Measurement{HeartRate: 60}))
	e.handleNotification([]byte{0x10, 0x4B, 0xE8, 0x03})

	snap := e.Metrics().Snapshot()
	if snap.PacketsReceived != 3 {
		t.Errorf("PacketsReceived = %d, want 3", snap.PacketsReceived)
	}
	if snap.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", snap.DecodeErrors)
	}
	if snap.PacketsWithoutRR != 1 {
		t.Errorf("PacketsWithoutRR = %d, want 1", snap.PacketsWithoutRR)
	}
	if got := e.Snapshot().LastIBI; got != 977 {
		t.Errorf("LastIBI = %d, want 977", got)
	}
}

func TestEngine_RecordingSavedAndUploadedOnShutdown(t *testing.T) {
	client := lode.NewStubClient()
	sidecar := lode.NewStubFileWriter()
	e, err := New(Config{
		Transport: fastSim(),
		Link:      testLink(),
		Pipeline:  hrv.DefaultConfig(),
		Sidecar:   sidecar,
		Summary:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	observed := make(chan *types.Event, 4096)
	if err := e.Bus().Subscribe("observer", observed); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	path := filepath.Join(t.TempDir(), "session.csv")
	stop := startEngine(t, e)
	if err := e.StartRecording(path); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := e.RequestConnect("sim-1"); err != nil {
		t.Fatalf("RequestConnect: %v", err)
	}
	waitEvents(t, observed, types.EventTypeIBI, 5)
	e.Annotate("breathing slower")
	res := stop()

	if res.Recording != path {
		t.Errorf("Recording = %q, want %q", res.Recording, path)
	}
	if e.Recording() {
		t.Error("recording should be saved at shutdown")
	}
	if len(sidecar.Files) != 1 {
		t.Fatalf("sidecar files = %d, want 1", len(sidecar.Files))
	}
	if f := sidecar.Files[0]; f.Filename != "session.csv" || f.ContentType != "text/csv" || len(f.Data) == 0 {
		t.Errorf("sidecar file = %q %q %d bytes", f.Filename, f.ContentType, len(f.Data))
	}
	if len(client.Summaries) != 1 {
		t.Errorf("summaries = %d, want 1", len(client.Summaries))
	}
}
