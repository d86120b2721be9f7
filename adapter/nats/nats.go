// Package nats publishes session events to NATS subjects, one subject per
// series.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/justapithecus/openhrv/adapter"
	"github.com/justapithecus/openhrv/types"
)

// DefaultSubjectPrefix is the default subject prefix.
const DefaultSubjectPrefix = "openhrv"

// DefaultTimeout bounds connecting and flushing.
const DefaultTimeout = 3 * time.Second

// Config configures the NATS adapter.
type Config struct {
	// URL is the NATS server URL (required), e.g. nats://localhost:4222.
	URL string
	// SubjectPrefix prefixes every subject (default: openhrv).
	SubjectPrefix string
	// Timeout bounds connecting and flushing (default 3s).
	Timeout time.Duration
	// SessionID is stamped on every published envelope.
	SessionID string
}

// Adapter publishes events on <prefix>.<Series>.
type Adapter struct {
	config Config
	conn   *nats.Conn
}

// New connects to the NATS server. The client reconnects on its own
// after the initial connection succeeds.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats adapter requires a URL")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if strings.ContainsAny(cfg.SubjectPrefix, " *>") {
		return nil, fmt.Errorf("nats adapter: invalid subject prefix %q", cfg.SubjectPrefix)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("openhrv"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats adapter: connect: %w", err)
	}
	return &Adapter{config: cfg, conn: conn}, nil
}

// Subject returns the subject events of series are published on.
func Subject(prefix string, series types.Series) string {
	return prefix + "." + string(series)
}

// Publish sends the event as JSON. Delivery is at-most-once; the publish
// is flushed so server-side errors surface here.
func (a *Adapter) Publish(ctx context.Context, e *types.Event) error {
	body, err := adapter.Marshal(a.config.SessionID, e)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if err := a.conn.Publish(Subject(a.config.SubjectPrefix, e.Series), body); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	if err := a.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("nats: flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (a *Adapter) Close() error {
	if err := a.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
