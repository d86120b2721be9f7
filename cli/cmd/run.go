package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/bus"
	"github.com/justapithecus/openhrv/capture"
	"github.com/justapithecus/openhrv/cli/render"
	"github.com/justapithecus/openhrv/cli/tui"
	"github.com/justapithecus/openhrv/engine"
	"github.com/justapithecus/openhrv/iox"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/sensor"
	"github.com/justapithecus/openhrv/server"
	"github.com/justapithecus/openhrv/types"
)

// Exit codes.
const (
	exitSuccess    = 0
	exitFailure    = 1
	exitSetupError = 2
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Connect to a heart rate sensor and run a biofeedback session",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			// Sensor flags
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Usage:   "Sensor transport: ble, sim, serial or replay",
				Value:   "ble",
			},
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Sensor address (BLE MAC/UUID, serial port or capture path); scans when empty",
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Connection retries per session (0 retries forever)",
			},
			&cli.BoolFlag{
				Name:  "reconnect-on-drop",
				Usage: "Reconnect after the sensor drops instead of ending the session",
			},
			// Signal flags
			&cli.Float64Flag{
				Name:  "target",
				Usage: fmt.Sprintf("HRV target in ms [%d, %d]", types.MinHRVTarget, types.MaxHRVTarget),
				Value: types.DefaultHRVTarget,
			},
			&cli.Float64Flag{
				Name:  "alpha",
				Usage: "EWMA smoothing weight in (0, 1]",
				Value: types.DefaultEWMAAlpha,
			},
			&cli.Float64Flag{
				Name:  "breathing-rate",
				Usage: "Pacer rate in breaths per minute [4, 7], steps of 0.5",
				Value: types.MaxBreathingRate,
			},
			// Output flags
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show the live dashboard",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Record the session to a CSV file",
			},
			&cli.StringFlag{
				Name:  "capture",
				Usage: "Capture raw sensor notifications for replay",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress the session summary",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Storage backend: fs or s3",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "storage-dataset",
				Usage: "Dataset ID",
				Value: "openhrv",
			},
			&cli.StringFlag{
				Name:  "storage-region",
				Usage: "AWS region for S3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Ingestion policy: strict, buffered or streaming",
				Value: "strict",
			},
			// Live surfaces
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Serve /ws, /metrics and /healthz on this address",
			},
			&cli.StringFlag{
				Name:  "redis-url",
				Usage: "Publish events to Redis",
			},
			&cli.StringFlag{
				Name:  "nats-url",
				Usage: "Publish events to NATS",
			},
			&cli.StringFlag{
				Name:  "webhook-url",
				Usage: "POST events to a webhook",
			},
			&cli.StringFlag{
				Name:  "mqtt-broker",
				Usage: "Publish events to an MQTT broker",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	s, err := resolveRunSettings(c, cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid settings: %v", err), exitSetupError)
	}
	if s.tui && !isTerminal(os.Stdout) {
		return cli.Exit("--tui requires a terminal", exitSetupError)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if s.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.duration)
		defer cancel()
	}

	result, err := runSession(ctx, c, s)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	if !s.quiet && !s.tui {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if err := r.Render(newRunSummary(result)); err != nil {
			return err
		}
	}
	if result.PersistErr != nil {
		return cli.Exit(fmt.Sprintf("persistence failed: %v", result.PersistErr), exitFailure)
	}
	return cli.Exit("", exitSuccess)
}

// runSession builds every component from s, runs the engine until ctx
// is done and returns its result.
func runSession(ctx context.Context, c *cli.Context, s *runSettings) (*engine.Result, error) {
	meta := types.NewSessionMeta(s.transport, s.address)

	logOut := c.App.ErrWriter
	if s.tui {
		logOut = io.Discard
	}
	logger, err := buildLogger(meta, s.logLevel, logOut)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector(s.transport, s.storage.Backend, meta.SessionID)

	transport, err := buildTransport(s)
	if err != nil {
		return nil, err
	}

	store, err := buildStorage(ctx, s.storage, meta, logger, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Until the engine owns them, components are closed here on failure.
	var owned []io.Closer
	if store.policy != nil {
		owned = append(owned, store.policy)
	}

	var capw *capture.Writer
	if s.capture != "" {
		if capw, err = capture.Create(s.capture, meta); err != nil {
			_ = iox.CloseAll(owned...)
			return nil, err
		}
		owned = append(owned, capw)
	}

	targets, err := buildTargets(s.adapters, meta.SessionID, logger)
	if err != nil {
		_ = iox.CloseAll(owned...)
		return nil, err
	}
	for _, t := range targets {
		owned = append(owned, t.Adapter)
	}

	ecfg := engine.Config{
		Meta:      meta,
		Transport: transport,
		Link:      s.link,
		Pipeline:  s.pipeline,
		Policy:    store.policy,
		Capture:   capw,
		Targets:   targets,
		Dispatch:  engine.DefaultDispatchConfig(),
		Logger:    logger,
		Metrics:   collector,
	}
	if store.client != nil {
		ecfg.Summary = store.client
		ecfg.Sidecar = store.client
	}
	eng, err := engine.New(ecfg)
	if err != nil {
		_ = iox.CloseAll(owned...)
		return nil, err
	}

	if s.csv != "" {
		if err := eng.StartRecording(s.csv); err != nil {
			logger.Warn("recording not started", map[string]any{"path": s.csv, "error": err.Error()})
		}
	}

	surfaces, stopSurfaces := context.WithCancel(ctx)
	defer stopSurfaces()

	if s.listen != "" {
		if err := startServer(surfaces, s.listen, eng, collector, logger); err != nil {
			logger.Error("http server not started", map[string]any{"error": err.Error()})
		}
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	dashboardDone := make(chan error, 1)
	if s.tui {
		events := make(chan *types.Event, 256)
		if err := subscribeOrClose(eng.Bus(), "tui", events, owned); err != nil {
			return nil, err
		}
		go func() {
			// Quitting the dashboard ends the session.
			dashboardDone <- tui.Run(surfaces, eng, events, s.address)
			stopRun()
		}()
	}

	go connect(runCtx, eng, s, logger)

	result, err := eng.Run(runCtx)
	stopSurfaces()
	if s.tui {
		if derr := <-dashboardDone; derr != nil {
			logger.Warn("dashboard exited with error", map[string]any{"error": derr.Error()})
		}
	}
	return result, err
}

// subscribeOrClose subscribes ch to b under id. When that fails the
// engine never runs, so the components in owned are closed here.
func subscribeOrClose(b *bus.Bus, id string, ch chan<- *types.Event, owned []io.Closer) error {
	if err := b.Subscribe(id, ch); err != nil {
		_ = iox.CloseAll(owned...)
		return fmt.Errorf("%s subscription: %w", id, err)
	}
	return nil
}

// connect starts the first sensor session: the configured address, or
// the strongest compatible sensor found by a scan.
func connect(ctx context.Context, eng *engine.Engine, s *runSettings, logger *log.Logger) {
	address := s.address
	if address == "" {
		found, err := eng.Scan(ctx, s.scanTimeout)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("sensor scan failed", map[string]any{"error": err.Error()})
			}
			return
		}
		if len(found) == 0 {
			logger.Warn("no compatible sensor found", nil)
			return
		}
		address = strongest(found).Address
	}
	if err := eng.RequestConnect(address); err != nil {
		logger.Error("connect request rejected", map[string]any{"address": address, "error": err.Error()})
	}
}

func strongest(found []sensor.Peripheral) sensor.Peripheral {
	best := found[0]
	for _, p := range found[1:] {
		if p.RSSI > best.RSSI {
			best = p
		}
	}
	return best
}

func startServer(ctx context.Context, listen string, eng *engine.Engine, collector *metrics.Collector, logger *log.Logger) error {
	reg := prometheus.NewRegistry()
	exporter := metrics.NewExporter(collector)
	b := eng.Bus()
	exporter.AddGauge("bus_events_sent", "Events delivered to bus subscribers.", func() float64 {
		return float64(b.Stats().TotalSent)
	})
	exporter.AddGauge("bus_events_dropped", "Events dropped by lossy bus subscribers.", func() float64 {
		return float64(b.Stats().TotalDropped)
	})
	if err := exporter.Register(reg); err != nil {
		return err
	}

	srv := server.New(server.Config{Listen: listen, Gatherer: reg, Logger: logger}, b, eng)
	go func() {
		if err := srv.Run(ctx); err != nil {
			logger.Error("http server failed", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// RunSummary is the rendered outcome of a session.
type RunSummary struct {
	SessionID     string  `json:"session_id" yaml:"session_id"`
	Transport     string  `json:"transport" yaml:"transport"`
	Duration      string  `json:"duration" yaml:"duration"`
	Packets       int64   `json:"packets" yaml:"packets"`
	IBIsAccepted  int64   `json:"ibis_accepted" yaml:"ibis_accepted"`
	IBIsCorrected int64   `json:"ibis_corrected" yaml:"ibis_corrected"`
	Reversals     int64   `json:"reversals" yaml:"reversals"`
	LastIBI       int     `json:"last_ibi_ms" yaml:"last_ibi_ms"`
	SmoothedHRV   float64 `json:"smoothed_hrv_ms" yaml:"smoothed_hrv_ms"`
	Score         float64 `json:"score" yaml:"score"`
	Target        float64 `json:"target_ms" yaml:"target_ms"`
	BreathingRate float64 `json:"breathing_rate" yaml:"breathing_rate"`
	Persisted     int64   `json:"events_persisted" yaml:"events_persisted"`
	Dropped       int64   `json:"events_dropped" yaml:"events_dropped"`
	Published     int64   `json:"adapter_publishes" yaml:"adapter_publishes"`
	PublishFailed int64   `json:"adapter_failures" yaml:"adapter_failures"`
	Recording     string  `json:"recording,omitempty" yaml:"recording,omitempty"`
	ExitCode      int     `json:"exit_code" yaml:"exit_code"`
}

func newRunSummary(r *engine.Result) RunSummary {
	return RunSummary{
		SessionID:     r.Meta.SessionID,
		Transport:     r.Meta.Transport,
		Duration:      r.Duration().Round(time.Millisecond).String(),
		Packets:       r.Metrics.PacketsReceived,
		IBIsAccepted:  r.Metrics.IBIsAccepted,
		IBIsCorrected: r.Metrics.IBIsCorrected,
		Reversals:     r.Metrics.Reversals,
		LastIBI:       r.Pipeline.LastIBI,
		SmoothedHRV:   r.Pipeline.SmoothedHRV,
		Score:         r.Pipeline.Score,
		Target:        r.Pipeline.Target,
		BreathingRate: r.Pipeline.BreathingRate,
		Persisted:     r.Metrics.EventsPersisted,
		Dropped:       r.Metrics.EventsDropped,
		Published:     r.Dispatch.Published,
		PublishFailed: r.Dispatch.Failed,
		Recording:     r.Recording,
		ExitCode:      r.ExitCode(),
	}
}
