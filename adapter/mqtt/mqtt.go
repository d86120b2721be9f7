// Package mqtt publishes session events to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/justapithecus/openhrv/adapter"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/types"
)

// DefaultTopicPrefix is the default topic prefix.
const DefaultTopicPrefix = "openhrv"

// DefaultTimeout bounds connecting and each publish.
const DefaultTimeout = 5 * time.Second

// disconnectQuiesce is the grace period, in milliseconds, given to
// in-flight publishes on Close.
const disconnectQuiesce = 250

// ErrNotConnected is returned by Publish while the client is reconnecting.
var ErrNotConnected = errors.New("mqtt not connected")

// Config configures the MQTT adapter.
type Config struct {
	// Broker is the broker URL (required), e.g. tcp://localhost:1883.
	Broker string
	// ClientID identifies this client to the broker (default: openhrv-<session>).
	ClientID string
	// TopicPrefix prefixes every topic (default: openhrv).
	TopicPrefix string
	// QoS is the delivery level, 0 to 2.
	QoS byte
	// Retain asks the broker to keep the newest message per topic.
	Retain bool
	// Timeout bounds connecting and each publish (default 5s).
	Timeout time.Duration
	// SessionID is stamped on every published envelope.
	SessionID string
	// Logger receives connection events. Optional.
	Logger *log.Logger
}

// Adapter publishes events on <prefix>/<Series>.
type Adapter struct {
	config Config
	client pahomqtt.Client
}

// New connects to the broker. After the first connection the client
// reconnects on its own; publishes fail fast while it is down.
func New(cfg Config) (*Adapter, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt adapter requires a broker URL")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt adapter: qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if strings.ContainsAny(cfg.TopicPrefix, "#+") {
		return nil, fmt.Errorf("mqtt adapter: invalid topic prefix %q", cfg.TopicPrefix)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "openhrv-" + cfg.SessionID
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	logger := cfg.Logger
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("mqtt connection established", map[string]any{"broker": cfg.Broker})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", map[string]any{
			"broker": cfg.Broker,
			"error":  err.Error(),
		})
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		client.Disconnect(0)
		return nil, errors.New("mqtt adapter: connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt adapter: connect: %w", err)
	}

	return &Adapter{config: cfg, client: client}, nil
}

// Topic returns the topic events of series are published on.
func Topic(prefix string, series types.Series) string {
	return strings.TrimSuffix(prefix, "/") + "/" + string(series)
}

// Publish sends the event as JSON and waits for the broker's
// acknowledgement at the configured QoS.
func (a *Adapter) Publish(ctx context.Context, e *types.Event) error {
	if !a.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	body, err := adapter.Marshal(a.config.SessionID, e)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}

	token := a.client.Publish(Topic(a.config.TopicPrefix, e.Series), a.config.QoS, a.config.Retain, body)
	timer := time.NewTimer(a.config.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return errors.New("mqtt: publish timeout")
	case <-ctx.Done():
		return fmt.Errorf("mqtt: context canceled: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (a *Adapter) Close() error {
	if a.client.IsConnected() {
		a.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
