package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/justapithecus/openhrv/adapter/mqtt"
	"github.com/justapithecus/openhrv/adapter/nats"
	"github.com/justapithecus/openhrv/adapter/redis"
	"github.com/justapithecus/openhrv/adapter/webhook"
	"github.com/justapithecus/openhrv/cli/config"
	"github.com/justapithecus/openhrv/engine"
	"github.com/justapithecus/openhrv/iox"
	"github.com/justapithecus/openhrv/lode"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/sensor"
	"github.com/justapithecus/openhrv/types"
)

const defaultScanTimeout = 10 * time.Second

// buildLogger creates the session logger writing to w.
func buildLogger(meta *types.SessionMeta, level string, w io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewLogger(meta).WithOutput(w).WithLevel(lvl), nil
}

// buildTransport creates the sensor transport named by s.transport.
func buildTransport(s *runSettings) (sensor.Transport, error) {
	switch s.transport {
	case "ble", "":
		return sensor.NewBLE(s.scanTimeout), nil
	case "sim":
		return sensor.NewSim(s.sim), nil
	case "serial":
		return sensor.NewSerial(s.serialBaud), nil
	case "replay":
		if s.address == "" {
			return nil, fmt.Errorf("replay transport requires a capture path (--address or sensor.replay.path)")
		}
		return sensor.NewReplay(s.address, s.replaySpeed), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s (must be ble, sim, serial or replay)", s.transport)
	}
}

// storage is the persistence wiring for one session.
type storage struct {
	policy policy.Policy
	client *lode.LodeClient
}

// buildStorage creates the Lode client and ingestion policy. It returns
// a zero storage when no backend is configured.
func buildStorage(ctx context.Context, cfg config.StorageConfig, meta *types.SessionMeta, logger *log.Logger, collector *metrics.Collector) (*storage, error) {
	if !cfg.Enabled() {
		return &storage{}, nil
	}

	policyName := cfg.Policy
	if policyName == "" {
		policyName = "strict"
	}
	lodeCfg := lode.ConfigFromSession(cfg.Dataset, meta, policyName)

	var (
		client *lode.LodeClient
		err    error
	)
	switch cfg.Backend {
	case "fs", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("fs storage requires a path (--storage-path or storage.path)")
		}
		client, err = lode.NewLodeClient(lodeCfg, cfg.Path)
	case "s3":
		client, err = lode.NewLodeS3Client(ctx, lodeCfg, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	sink := lode.NewInstrumentedSink(lode.NewSink(client), collector)
	pol, err := buildPolicy(policyName, cfg, sink, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &storage{policy: pol, client: client}, nil
}

func buildPolicy(name string, cfg config.StorageConfig, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	switch name {
	case "strict":
		return policy.NewStrictPolicy(sink), nil

	case "buffered":
		bc := policy.DefaultBufferedConfig()
		if cfg.BufferEvents > 0 || cfg.BufferBytes > 0 {
			bc.MaxBufferEvents = cfg.BufferEvents
			bc.MaxBufferBytes = cfg.BufferBytes
		}
		bc.Logger = logger
		return policy.NewBufferedPolicy(sink, bc)

	case "streaming":
		sc := policy.StreamingConfig{
			FlushCount:    cfg.FlushCount,
			FlushInterval: cfg.FlushInterval.Duration,
			Logger:        logger,
		}
		if sc.FlushCount <= 0 && sc.FlushInterval <= 0 {
			sc.FlushCount = 64
			sc.FlushInterval = 5 * time.Second
		}
		return policy.NewStreamingPolicy(sink, sc)

	default:
		return nil, fmt.Errorf("invalid policy: %s (must be strict, buffered or streaming)", name)
	}
}

// buildTargets connects every configured adapter. On failure the
// adapters already created are closed.
func buildTargets(cfg config.AdaptersConfig, sessionID string, logger *log.Logger) ([]engine.Target, error) {
	var targets []engine.Target
	fail := func(name string, err error) ([]engine.Target, error) {
		for _, t := range targets {
			_ = iox.CloseAll(t.Adapter)
		}
		return nil, fmt.Errorf("%s adapter: %w", name, err)
	}

	if r := cfg.Redis; r != nil {
		rc := redis.Config{
			URL:       r.URL,
			Channel:   r.Channel,
			Timeout:   r.Timeout.Duration,
			Retries:   redis.DefaultRetries,
			SessionID: sessionID,
		}
		if r.Retries != nil {
			rc.Retries = *r.Retries
		}
		a, err := redis.New(rc)
		if err != nil {
			return fail("redis", err)
		}
		targets = append(targets, engine.Target{Name: "redis", Adapter: a})
	}

	if n := cfg.NATS; n != nil {
		a, err := nats.New(nats.Config{
			URL:           n.URL,
			SubjectPrefix: n.SubjectPrefix,
			Timeout:       n.Timeout.Duration,
			SessionID:     sessionID,
		})
		if err != nil {
			return fail("nats", err)
		}
		targets = append(targets, engine.Target{Name: "nats", Adapter: a})
	}

	if w := cfg.Webhook; w != nil {
		wc := webhook.Config{
			URL:       w.URL,
			Headers:   w.Headers,
			Timeout:   w.Timeout.Duration,
			Retries:   webhook.DefaultRetries,
			SessionID: sessionID,
		}
		if w.Retries != nil {
			wc.Retries = *w.Retries
		}
		a, err := webhook.New(wc)
		if err != nil {
			return fail("webhook", err)
		}
		targets = append(targets, engine.Target{Name: "webhook", Adapter: a})
	}

	if m := cfg.MQTT; m != nil {
		a, err := mqtt.New(mqtt.Config{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			QoS:         byte(m.QoS),
			Retain:      m.Retain,
			Timeout:     m.Timeout.Duration,
			SessionID:   sessionID,
			Logger:      logger,
		})
		if err != nil {
			return fail("mqtt", err)
		}
		targets = append(targets, engine.Target{Name: "mqtt", Adapter: a})
	}

	return targets, nil
}
