// Package engine wires the sensor link, the signal pipeline and every
// observer of the event bus into one running session.
//
// A single goroutine owns the hrv.Pipeline. It selects on the ordered
// notification channel fed by the sensor.Link and on a control channel
// carrying parameter changes from the UI, so every IBI of a packet is
// processed to completion before the next packet or command is looked at.
// Persistence, CSV recording and adapter publishing are bus subscribers;
// their failures are logged and counted and never stop the pipeline.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/openhrv/bus"
	"github.com/justapithecus/openhrv/capture"
	"github.com/justapithecus/openhrv/gatt"
	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/iox"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/record"
	"github.com/justapithecus/openhrv/sensor"
	"github.com/justapithecus/openhrv/types"
)

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrStopped is returned by control operations after Run has returned.
	ErrStopped = errors.New("engine stopped")

	// ErrScanUnsupported is returned by Scan when the transport cannot
	// discover peripherals.
	ErrScanUnsupported = errors.New("transport does not support scanning")
)

// DefaultShutdownTimeout bounds link teardown and the final flush.
const DefaultShutdownTimeout = 30 * time.Second

// SummaryWriter persists the end-of-session metrics summary.
// *lode.LodeClient satisfies it.
type SummaryWriter interface {
	WriteSummary(ctx context.Context, snap metrics.Snapshot, endedAt time.Time) error
}

// FileWriter stores sidecar files next to the session's events.
// *lode.LodeClient satisfies it.
type FileWriter interface {
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

// Config configures an Engine.
type Config struct {
	// Meta identifies the session. Created from the transport when nil.
	Meta *types.SessionMeta
	// Transport connects to sensors. Required.
	Transport sensor.Transport
	// Link configures connection retries. Logger and Metrics are filled in
	// from the engine when unset.
	Link sensor.LinkConfig
	// Pipeline configures the signal path. A zero value uses
	// hrv.DefaultConfig.
	Pipeline hrv.Config

	// Policy persists every bus event. Optional.
	Policy policy.Policy
	// Summary receives the metrics summary at shutdown. Optional.
	Summary SummaryWriter
	// Sidecar receives the CSV recording at shutdown. Optional.
	Sidecar FileWriter
	// Capture records raw notifications. Optional; closed at shutdown.
	Capture *capture.Writer
	// Targets are publish adapters; closed at shutdown.
	Targets []Target
	// Dispatch configures adapter fan-out.
	Dispatch DispatchConfig

	// ShutdownTimeout bounds teardown. Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
	// Bus is created when nil.
	Bus *bus.Bus
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is created when nil.
	Metrics *metrics.Collector
}

// Result summarizes a finished Run.
type Result struct {
	Meta      *types.SessionMeta
	StartedAt time.Time
	EndedAt   time.Time

	// Pipeline is the final signal state.
	Pipeline hrv.Snapshot
	// Metrics is the final counter snapshot, policy stats absorbed.
	Metrics metrics.Snapshot
	// Policy is nil when no persistence policy was configured.
	Policy *policy.Stats
	// Dispatch summarizes adapter publishing.
	Dispatch DispatchResult
	// Bus holds the final subscriber counters.
	Bus bus.Stats
	// Recording is the CSV path saved at shutdown, if any.
	Recording string

	// PersistErr is the first event the policy refused, or a final flush
	// failure. Nil when everything was persisted.
	PersistErr error
	// PersistFailures counts refused events.
	PersistFailures int64
}

// Duration returns the wall-clock run time.
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ExitCode maps the result to a process exit code.
func (r *Result) ExitCode() int {
	if r.PersistErr != nil {
		return 1
	}
	return 0
}

type command struct {
	apply func(p *hrv.Pipeline) (*types.Event, error)
	reply chan error
}

// Engine runs one session. Control operations are safe for concurrent use.
type Engine struct {
	cfg       Config
	meta      *types.SessionMeta
	bus       *bus.Bus
	link      *sensor.Link
	pipeline  *hrv.Pipeline
	discovery *sensor.Discovery
	recorder  *record.Recorder
	logger    *log.Logger
	metrics   *metrics.Collector

	notifications chan []byte
	control       chan command
	done          chan struct{}
	started       atomic.Bool

	snapMu sync.RWMutex
	snap   hrv.Snapshot
}

// New creates an engine in its startup state. Nothing runs until Run.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if cfg.Meta == nil {
		cfg.Meta = types.NewSessionMeta(cfg.Transport.Name(), "")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector(cfg.Transport.Name(), "", cfg.Meta.SessionID)
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Pipeline.Alpha == 0 && cfg.Pipeline.Target == 0 && cfg.Pipeline.BreathingRate == 0 {
		defaults := hrv.DefaultConfig()
		cfg.Pipeline.Alpha = defaults.Alpha
		cfg.Pipeline.Target = defaults.Target
		cfg.Pipeline.BreathingRate = defaults.BreathingRate
	}
	if cfg.Pipeline.Logger == nil {
		cfg.Pipeline.Logger = cfg.Logger
	}
	if cfg.Pipeline.Metrics == nil {
		cfg.Pipeline.Metrics = cfg.Metrics
	}
	if cfg.Link.Logger == nil {
		cfg.Link.Logger = cfg.Logger
	}
	if cfg.Link.Metrics == nil {
		cfg.Link.Metrics = cfg.Metrics
	}

	pipeline, err := hrv.NewPipeline(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		meta:          cfg.Meta,
		bus:           cfg.Bus,
		pipeline:      pipeline,
		recorder:      record.NewRecorder(cfg.Bus, cfg.Logger, cfg.Metrics),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		notifications: make(chan []byte),
		control:       make(chan command),
		done:          make(chan struct{}),
		snap:          pipeline.Snapshot(),
	}
	e.link = sensor.NewLink(cfg.Transport, e.notifications, cfg.Bus, cfg.Link)
	if scanner, ok := cfg.Transport.(sensor.Scanner); ok {
		e.discovery = sensor.NewDiscovery(scanner, cfg.Bus, cfg.Logger)
	}
	return e, nil
}

// Bus returns the event bus observers subscribe to.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Meta returns the session metadata.
func (e *Engine) Meta() *types.SessionMeta { return e.meta }

// Metrics returns the engine's collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// State returns the sensor connection state.
func (e *Engine) State() types.ConnectionState { return e.link.State() }

// Address returns the address of the active session, or "".
func (e *Engine) Address() string { return e.link.Address() }

// Snapshot returns the pipeline scalars as of the last processed packet
// or command.
func (e *Engine) Snapshot() hrv.Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// RequestConnect starts a sensor session. See sensor.Link.RequestConnect.
func (e *Engine) RequestConnect(address string) error {
	return e.link.RequestConnect(address)
}

// RequestDisconnect ends the active sensor session, if any.
func (e *Engine) RequestDisconnect() {
	e.link.RequestDisconnect()
}

// SetTargetHRV changes the biofeedback target.
func (e *Engine) SetTargetHRV(target float64) error {
	return e.do(func(p *hrv.Pipeline) (*types.Event, error) {
		return p.SetTarget(target)
	})
}

// SetSmoothingParam changes the EWMA weight.
func (e *Engine) SetSmoothingParam(alpha float64) error {
	return e.do(func(p *hrv.Pipeline) (*types.Event, error) {
		return nil, p.SetSmoothingParam(alpha)
	})
}

// SetBreathingRate changes the pacer rate.
func (e *Engine) SetBreathingRate(rate float64) error {
	return e.do(func(p *hrv.Pipeline) (*types.Event, error) {
		return p.SetBreathingRate(rate)
	})
}

// Scan discovers compatible sensors nearby.
func (e *Engine) Scan(ctx context.Context, timeout time.Duration) ([]sensor.Peripheral, error) {
	if e.discovery == nil {
		return nil, ErrScanUnsupported
	}
	return e.discovery.Scan(ctx, timeout)
}

// StartRecording starts writing a CSV recording to path.
func (e *Engine) StartRecording(path string) error {
	return e.recorder.Start(path)
}

// SaveRecording finishes the CSV recording and returns its path.
func (e *Engine) SaveRecording() (string, error) {
	return e.recorder.Save()
}

// Recording reports whether a CSV recording is in progress.
func (e *Engine) Recording() bool {
	return e.recorder.Recording()
}

// Annotate adds a free-text row to the CSV recording.
func (e *Engine) Annotate(text string) {
	e.recorder.Annotate(text, time.Now())
}

// do hands fn to the pipeline goroutine and waits for it to run.
// Commands sent before Run starts wait for it.
func (e *Engine) do(fn func(p *hrv.Pipeline) (*types.Event, error)) error {
	cmd := command{apply: fn, reply: make(chan error, 1)}
	select {
	case e.control <- cmd:
	case <-e.done:
		return ErrStopped
	}
	return <-cmd.reply
}

// Run processes notifications and commands until ctx is cancelled, then
// tears the session down: the link is shut down, an active recording is
// saved, subscribers are drained, the policy is flushed and the summary
// written. Run returns an error only when it could not start.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	startedAt := time.Now()

	// Subscribers outlive ctx so that they can drain during shutdown.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	persist, dispatcher, err := e.startSubscribers(workCtx, stop, &wg)
	if err != nil {
		close(stop)
		wg.Wait()
		close(e.done)
		return nil, err
	}

	e.logger.Info("engine started", map[string]any{
		"transport": e.cfg.Transport.Name(),
		"adapters":  len(e.cfg.Targets),
		"persist":   e.cfg.Policy != nil,
		"capture":   e.cfg.Capture != nil,
	})

	initial := e.pipeline.Snapshot()
	e.publish(types.NewTargetUpdate(time.Now(), initial.Target))
	e.publish(types.NewPacerUpdate(time.Now(), initial.BreathingRate))

loop:
	for {
		select {
		case data := <-e.notifications:
			e.handleNotification(data)
		case cmd := <-e.control:
			e.apply(cmd)
		case <-ctx.Done():
			break loop
		}
	}
	close(e.done)

	return e.shutdown(ctx, startedAt, stop, &wg, persist, dispatcher), nil
}

func (e *Engine) startSubscribers(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup) (*persister, *Dispatcher, error) {
	recordCh := make(chan *types.Event, 256)
	if err := e.bus.Subscribe("recorder", recordCh, bus.Lossless(),
		bus.Types(types.EventTypeIBI, types.EventTypeHRV, types.EventTypeBiofeedback,
			types.EventTypeTarget, types.EventTypePacer)); err != nil {
		return nil, nil, err
	}
	wg.Go(func() { consume(recordCh, stop, e.recorder.Write) })

	var persist *persister
	if e.cfg.Policy != nil {
		persist = newPersister(e.cfg.Policy, e.logger)
		persistCh := make(chan *types.Event, 256)
		if err := e.bus.Subscribe("persist", persistCh, bus.Lossless()); err != nil {
			return nil, nil, err
		}
		wg.Go(func() {
			consume(persistCh, stop, func(ev *types.Event) { persist.ingest(ctx, ev) })
		})
	}

	var dispatcher *Dispatcher
	if len(e.cfg.Targets) > 0 {
		dispatcher = NewDispatcher(e.cfg.Dispatch, e.cfg.Targets, e.logger, e.metrics)
		dispatchCh := make(chan *types.Event, dispatcher.config.Buffer)
		if err := e.bus.Subscribe("dispatch", dispatchCh); err != nil {
			return nil, nil, err
		}
		wg.Go(func() { dispatcher.Run(ctx, dispatchCh, stop) })
	}
	return persist, dispatcher, nil
}

func (e *Engine) handleNotification(data []byte) {
	e.metrics.IncPacketsReceived()

	if e.cfg.Capture != nil {
		if err := e.cfg.Capture.Write(time.Now(), e.link.Address(), data); err != nil {
			e.metrics.IncRecordErrors()
			e.logger.Warn("capture write failed", map[string]any{"error": err.Error()})
		}
	}

	m, err := gatt.DecodeMeasurement(data)
	if err != nil {
		e.metrics.IncDecodeErrors()
		e.logger.Warn("dropping undecodable packet", map[string]any{
			"bytes": len(data),
			"error": err.Error(),
		})
		return
	}

	ibis := m.IBIs()
	if len(ibis) == 0 {
		e.metrics.IncPacketsWithoutRR()
		return
	}
	for _, ibi := range ibis {
		for _, ev := range e.pipeline.Process(ibi) {
			e.publish(ev)
		}
	}
	e.storeSnapshot()
}

func (e *Engine) apply(cmd command) {
	ev, err := cmd.apply(e.pipeline)
	if err == nil {
		if ev != nil {
			e.publish(ev)
		}
		e.storeSnapshot()
	}
	cmd.reply <- err
}

func (e *Engine) storeSnapshot() {
	snap := e.pipeline.Snapshot()
	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

func (e *Engine) publish(ev *types.Event) {
	if err := e.bus.Publish(ev); err != nil && !errors.Is(err, bus.ErrClosed) {
		e.logger.Warn("publish failed", map[string]any{
			"type":  string(ev.Type),
			"error": err.Error(),
		})
	}
}

func (e *Engine) shutdown(ctx context.Context, startedAt time.Time, stop chan struct{}, wg *sync.WaitGroup, persist *persister, dispatcher *Dispatcher) *Result {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()

	if err := e.link.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn("link shutdown incomplete", map[string]any{"error": err.Error()})
	}

	result := &Result{Meta: e.meta, StartedAt: startedAt}

	if e.recorder.Recording() {
		path, err := e.recorder.Save()
		if err != nil {
			e.logger.Warn("recording save failed", map[string]any{"error": err.Error()})
		} else {
			result.Recording = path
			e.uploadRecording(shutdownCtx, path)
		}
	}

	// Closing the bus first guarantees the drain below sees every event.
	result.Bus = e.bus.Stats()
	_ = e.bus.Close()
	close(stop)
	wg.Wait()

	if persist != nil {
		result.PersistErr = persist.err()
		result.PersistFailures = persist.failureCount()
	}
	if dispatcher != nil {
		result.Dispatch = dispatcher.Results()
	}

	if p := e.cfg.Policy; p != nil {
		if err := p.Flush(shutdownCtx); err != nil {
			e.logger.Error("policy flush failed", map[string]any{"error": err.Error()})
			if result.PersistErr == nil {
				result.PersistErr = err
			}
		}
		stats := p.Stats()
		e.metrics.AbsorbPolicyStats(stats.TotalEvents, stats.EventsPersisted, stats.EventsDropped, stats.DroppedByTypeStrings())
		result.Policy = &stats
	}

	result.EndedAt = time.Now()
	result.Pipeline = e.pipeline.Snapshot()
	result.Metrics = e.metrics.Snapshot()

	if e.cfg.Summary != nil {
		if err := e.cfg.Summary.WriteSummary(shutdownCtx, result.Metrics, result.EndedAt); err != nil {
			e.logger.Warn("summary write failed", map[string]any{"error": err.Error()})
		}
	}

	if err := iox.CloseAll(e.closers()...); err != nil {
		e.logger.Warn("close failed", map[string]any{"error": err.Error()})
	}

	e.logger.Info("engine stopped", map[string]any{
		"duration":  result.Duration().String(),
		"packets":   result.Metrics.PacketsReceived,
		"reversals": result.Metrics.Reversals,
		"persisted": result.Metrics.EventsPersisted,
	})
	return result
}

func (e *Engine) uploadRecording(ctx context.Context, path string) {
	if e.cfg.Sidecar == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err == nil {
		err = e.cfg.Sidecar.PutFile(ctx, filepath.Base(path), "text/csv", data)
	}
	if err != nil {
		e.metrics.IncRecordErrors()
		e.logger.Warn("recording upload failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
}

func (e *Engine) closers() []io.Closer {
	var closers []io.Closer
	if e.cfg.Policy != nil {
		closers = append(closers, e.cfg.Policy)
	}
	if e.cfg.Capture != nil {
		closers = append(closers, e.cfg.Capture)
	}
	for _, t := range e.cfg.Targets {
		closers = append(closers, t.Adapter)
	}
	return closers
}
