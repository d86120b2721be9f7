package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/justapithecus/openhrv/lode"
)

// Config represents an openhrv.yaml configuration file.
// All values are optional and act as defaults for openhrv run flags.
// CLI flags always override config values.
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	Signal   SignalConfig   `yaml:"signal"`
	Storage  StorageConfig  `yaml:"storage"`
	Record   RecordConfig   `yaml:"record"`
	Capture  CaptureConfig  `yaml:"capture"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// SensorConfig holds link and transport defaults.
type SensorConfig struct {
	Transport       string       `yaml:"transport"`
	Address         string       `yaml:"address"`
	MaxRetries      *int         `yaml:"max_retries,omitempty"`
	RetryDelay      Duration     `yaml:"retry_delay"`
	MaxRetryDelay   Duration     `yaml:"max_retry_delay"`
	ReconnectOnDrop bool         `yaml:"reconnect_on_drop"`
	ScanTimeout     Duration     `yaml:"scan_timeout"`
	Serial          SerialConfig `yaml:"serial"`
	Replay          ReplayConfig `yaml:"replay"`
	Sim             SimConfig    `yaml:"sim"`
}

// SerialConfig configures the serial bridge transport.
// Port is used as the sensor address when none is given.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ReplayConfig configures capture replay.
// Path is used as the sensor address when none is given.
type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
}

// SimConfig configures the simulated sensor.
type SimConfig struct {
	Jitter int     `yaml:"jitter"`
	Speed  float64 `yaml:"speed"`
}

// SignalConfig holds pipeline defaults. Nil means unset.
type SignalConfig struct {
	HRVTarget     *float64 `yaml:"hrv_target,omitempty"`
	EWMAAlpha     *float64 `yaml:"ewma_alpha,omitempty"`
	BreathingRate *float64 `yaml:"breathing_rate,omitempty"`
}

// StorageConfig holds dataset persistence defaults.
type StorageConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	Dataset       string        `yaml:"dataset"`
	S3            lode.S3Config `yaml:"s3"`
	Policy        string        `yaml:"policy"`
	BufferEvents  int           `yaml:"buffer_events"`
	BufferBytes   int64         `yaml:"buffer_bytes"`
	FlushCount    int           `yaml:"flush_count"`
	FlushInterval Duration      `yaml:"flush_interval"`
}

// Enabled reports whether a storage backend is configured.
func (s StorageConfig) Enabled() bool {
	return s.Backend != "" || s.Path != ""
}

// RecordConfig holds CSV recording defaults.
type RecordConfig struct {
	CSV string `yaml:"csv"`
}

// CaptureConfig holds raw notification capture defaults.
type CaptureConfig struct {
	Path string `yaml:"path"`
}

// AdaptersConfig holds publish adapter defaults. A nil section is disabled.
type AdaptersConfig struct {
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
	NATS    *NATSConfig    `yaml:"nats,omitempty"`
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
	MQTT    *MQTTConfig    `yaml:"mqtt,omitempty"`
}

// RedisConfig configures the Redis adapter.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// NATSConfig configures the NATS adapter.
type NATSConfig struct {
	URL           string   `yaml:"url"`
	SubjectPrefix string   `yaml:"subject_prefix,omitempty"`
	Timeout       Duration `yaml:"timeout,omitempty"`
}

// WebhookConfig configures the webhook adapter.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// MQTTConfig configures the MQTT adapter.
type MQTTConfig struct {
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id,omitempty"`
	TopicPrefix string   `yaml:"topic_prefix,omitempty"`
	QoS         int      `yaml:"qos,omitempty"`
	Retain      bool     `yaml:"retain,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
}

// ServerConfig holds HTTP server defaults. Empty Listen disables it.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

var (
	transports = []string{"", "ble", "sim", "serial", "replay"}
	backends   = []string{"", "fs", "s3"}
	policies   = []string{"", "strict", "buffered", "streaming"}
)

// Validate checks enumerations and ranges that YAML cannot express.
// Signal values are range-checked by the pipeline itself.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(transports, c.Sensor.Transport) {
		errs = append(errs, fmt.Errorf("sensor.transport: unknown transport %q", c.Sensor.Transport))
	}
	if c.Sensor.MaxRetries != nil && *c.Sensor.MaxRetries < 0 {
		errs = append(errs, errors.New("sensor.max_retries: must be >= 0"))
	}
	if !slices.Contains(backends, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if !slices.Contains(policies, c.Storage.Policy) {
		errs = append(errs, fmt.Errorf("storage.policy: unknown policy %q", c.Storage.Policy))
	}
	if c.Storage.Backend == "s3" {
		if err := c.Storage.S3.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("storage.s3: %w", err))
		}
	}
	if m := c.Adapters.MQTT; m != nil && (m.QoS < 0 || m.QoS > 2) {
		errs = append(errs, fmt.Errorf("adapters.mqtt.qos: %d not in 0..2", m.QoS))
	}
	return errors.Join(errs...)
}
