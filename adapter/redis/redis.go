// Package redis publishes session events to Redis.
//
// Every event is PUBLISHed as JSON on a channel, and the newest value of
// each series is kept under openhrv:last:<Series> for dashboards that poll.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/openhrv/adapter"
	"github.com/justapithecus/openhrv/types"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "openhrv:events"

// LastKeyPrefix prefixes the per-series last-value keys.
const LastKeyPrefix = "openhrv:last:"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: openhrv:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// SessionID is stamped on every published envelope.
	SessionID string
}

// Adapter publishes events via Redis PUBLISH and SET.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// LastKey returns the key holding the newest value of series.
func LastKey(series types.Series) string {
	return LastKeyPrefix + string(series)
}

// Publish sends the event as a JSON PUBLISH and updates the series'
// last-value key in one round trip. Retries with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, e *types.Event) error {
	body, err := adapter.Marshal(a.config.SessionID, e)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	last := adapter.LastValue(e)

	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		_, err := a.client.Pipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.Publish(publishCtx, a.config.Channel, body)
			p.Set(publishCtx, LastKey(e.Series), last, 0)
			return nil
		})
		return err
	}, isClosed)
}

// isClosed reports errors that no retry can fix.
func isClosed(err error) bool {
	return errors.Is(err, goredis.ErrClosed)
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
