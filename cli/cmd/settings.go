package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/cli/config"
	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/lode"
	"github.com/justapithecus/openhrv/sensor"
	"github.com/justapithecus/openhrv/types"
)

// runSettings is the openhrv.yaml file merged with command-line flags.
type runSettings struct {
	transport   string
	address     string
	link        sensor.LinkConfig
	scanTimeout time.Duration
	serialBaud  int
	replaySpeed float64
	sim         sensor.SimConfig

	pipeline hrv.Config

	storage  config.StorageConfig
	csv      string
	capture  string
	adapters config.AdaptersConfig
	listen   string

	logLevel string
	tui      bool
	quiet    bool
	duration time.Duration
}

// loadConfig reads --config, or returns the zero Config when unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// pick returns the flag value when set on the command line, else the
// config value, else the flag default.
func pick(c *cli.Context, flag, fromConfig string) string {
	if c.IsSet(flag) || fromConfig == "" {
		return c.String(flag)
	}
	return fromConfig
}

func pickFloat(c *cli.Context, flag string, fromConfig *float64, def float64) float64 {
	if c.IsSet(flag) {
		return c.Float64(flag)
	}
	if fromConfig != nil {
		return *fromConfig
	}
	return def
}

func pickDuration(fromConfig config.Duration, def time.Duration) time.Duration {
	if fromConfig.Duration > 0 {
		return fromConfig.Duration
	}
	return def
}

// resolveRunSettings merges cfg with the flags of c.
func resolveRunSettings(c *cli.Context, cfg *config.Config) (*runSettings, error) {
	s := &runSettings{
		transport: pick(c, "transport", cfg.Sensor.Transport),
		address:   pick(c, "address", cfg.Sensor.Address),
		csv:       pick(c, "csv", cfg.Record.CSV),
		capture:   pick(c, "capture", cfg.Capture.Path),
		listen:    pick(c, "listen", cfg.Server.Listen),
		logLevel:  pick(c, "log-level", cfg.Log.Level),
		tui:       c.Bool("tui"),
		quiet:     c.Bool("quiet"),
		duration:  c.Duration("duration"),
	}

	s.link = sensor.DefaultLinkConfig()
	switch {
	case c.IsSet("max-retries"):
		s.link.MaxRetries = c.Int("max-retries")
	case cfg.Sensor.MaxRetries != nil:
		s.link.MaxRetries = *cfg.Sensor.MaxRetries
	}
	if s.link.MaxRetries < 0 {
		return nil, fmt.Errorf("--max-retries must be >= 0, got %d", s.link.MaxRetries)
	}
	s.link.RetryDelay = pickDuration(cfg.Sensor.RetryDelay, s.link.RetryDelay)
	s.link.MaxRetryDelay = pickDuration(cfg.Sensor.MaxRetryDelay, s.link.MaxRetryDelay)
	s.link.ReconnectOnDrop = c.Bool("reconnect-on-drop") || cfg.Sensor.ReconnectOnDrop
	s.scanTimeout = pickDuration(cfg.Sensor.ScanTimeout, defaultScanTimeout)

	s.serialBaud = cfg.Sensor.Serial.Baud
	s.replaySpeed = 1
	if cfg.Sensor.Replay.Speed > 0 {
		s.replaySpeed = cfg.Sensor.Replay.Speed
	}
	s.sim = sensor.DefaultSimConfig()
	s.sim.Jitter = cfg.Sensor.Sim.Jitter
	if cfg.Sensor.Sim.Speed > 0 {
		s.sim.Speed = cfg.Sensor.Sim.Speed
	}
	s.sim.Seed = uint64(time.Now().UnixNano())

	if s.address == "" {
		switch s.transport {
		case "serial":
			s.address = cfg.Sensor.Serial.Port
		case "replay":
			s.address = cfg.Sensor.Replay.Path
		}
	}

	s.pipeline = hrv.Config{
		Target:        pickFloat(c, "target", cfg.Signal.HRVTarget, types.DefaultHRVTarget),
		Alpha:         pickFloat(c, "alpha", cfg.Signal.EWMAAlpha, types.DefaultEWMAAlpha),
		BreathingRate: pickFloat(c, "breathing-rate", cfg.Signal.BreathingRate, types.MaxBreathingRate),
	}

	s.storage = cfg.Storage
	s.storage.Backend = pick(c, "storage-backend", cfg.Storage.Backend)
	s.storage.Dataset = pick(c, "storage-dataset", cfg.Storage.Dataset)
	s.storage.Policy = pick(c, "policy", cfg.Storage.Policy)
	if c.IsSet("storage-path") {
		s.storage.Path = c.String("storage-path")
		if s.storage.Backend == "s3" {
			s.storage.S3.Bucket, s.storage.S3.Prefix = lode.ParseS3Path(s.storage.Path)
		}
	}
	if c.IsSet("storage-region") {
		s.storage.S3.Region = c.String("storage-region")
	}
	if s.storage.Backend == "" && s.storage.Path != "" {
		s.storage.Backend = "fs"
	}

	s.adapters = cfg.Adapters
	if url := c.String("redis-url"); url != "" {
		if s.adapters.Redis == nil {
			s.adapters.Redis = &config.RedisConfig{}
		}
		s.adapters.Redis.URL = url
	}
	if url := c.String("nats-url"); url != "" {
		if s.adapters.NATS == nil {
			s.adapters.NATS = &config.NATSConfig{}
		}
		s.adapters.NATS.URL = url
	}
	if url := c.String("webhook-url"); url != "" {
		if s.adapters.Webhook == nil {
			s.adapters.Webhook = &config.WebhookConfig{}
		}
		s.adapters.Webhook.URL = url
	}
	if broker := c.String("mqtt-broker"); broker != "" {
		if s.adapters.MQTT == nil {
			s.adapters.MQTT = &config.MQTTConfig{}
		}
		s.adapters.MQTT.Broker = broker
	}

	merged := config.Config{Sensor: config.SensorConfig{Transport: s.transport}, Storage: s.storage, Adapters: s.adapters}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
