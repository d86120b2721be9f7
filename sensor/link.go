package sensor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// ErrBusy is returned by RequestConnect while a session holds the link.
var ErrBusy = errors.New("sensor link busy")

// Emitter receives status and connection state events.
// *bus.Bus satisfies it.
type Emitter interface {
	Publish(e *types.Event) error
}

// LinkConfig configures retry behavior.
type LinkConfig struct {
	// MaxRetries bounds connection retries within one session.
	// Zero retries forever.
	MaxRetries int
	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff delay.
	MaxRetryDelay time.Duration
	// ReconnectOnDrop re-enters Connecting after a link drop instead of
	// ending the session. User disconnects always end the session.
	ReconnectOnDrop bool

	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// DefaultLinkConfig returns unbounded retries with 1s..30s backoff.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Link is the sensor connection state machine.
//
//	Idle -> Connecting -> Listening -> Disconnecting -> Idle
//
// A single-owner token guards the whole session: RequestConnect fails with
// ErrBusy while any session exists, and nothing is queued. A Listening
// session waits on one oneshot signal, fired either by RequestDisconnect or
// by the transport's link-dropped callback. The session goroutine then
// performs best-effort cleanup and releases the token.
//
// Notifications are forwarded, in arrival order, on the channel passed to
// NewLink. The Link never touches signal state.
type Link struct {
	transport Transport
	out       chan<- []byte
	emit      Emitter
	cfg       LinkConfig
	logger    *log.Logger
	metrics   *metrics.Collector

	token chan struct{}

	// mu guards current and state.
	mu      sync.Mutex
	current *session
	state   types.ConnectionState
}

type session struct {
	address string
	ctx     context.Context
	cancel  context.CancelFunc
	stop    sync.Once
	done    chan struct{}
}

// oneshot is a signal that can be fired any number of times but only
// closes its channel once.
type oneshot struct {
	once sync.Once
	c    chan struct{}
}

func newOneshot() *oneshot {
	return &oneshot{c: make(chan struct{})}
}

func (o *oneshot) fire() {
	o.once.Do(func() { close(o.c) })
}

// NewLink creates an idle link. Notifications are sent on out, which the
// caller must keep draining while a session is active.
func NewLink(transport Transport, out chan<- []byte, emit Emitter, cfg LinkConfig) *Link {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultLinkConfig().RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Link{
		transport: transport,
		out:       out,
		emit:      emit,
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		token:     make(chan struct{}, 1),
		state:     types.StateIdle,
	}
}

// State returns the current connection state.
func (l *Link) State() types.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Address returns the address of the active session, or "".
func (l *Link) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return ""
	}
	return l.current.address
}

// RequestConnect starts a session for address and returns immediately.
// While a session exists the request is rejected with a status event and
// ErrBusy.
func (l *Link) RequestConnect(address string) error {
	if err := validateFor(l.transport, address); err != nil {
		l.status(fmt.Sprintf("Invalid sensor address %q.", address))
		return err
	}

	l.mu.Lock()
	select {
	case l.token <- struct{}{}:
	default:
		busy := l.current
		l.mu.Unlock()
		l.metrics.IncConnectRejected()
		addr := "unknown address"
		if busy != nil {
			addr = busy.address
		}
		l.status(fmt.Sprintf("Currently connected to sensor at %s."+
			" Please disconnect before (re-)connecting to (another) sensor.", addr))
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		address: address,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.current = s
	l.mu.Unlock()

	go l.run(s)
	return nil
}

// RequestDisconnect asks the active session to end. It never blocks and
// is a no-op while Idle or when a disconnect is already under way.
func (l *Link) RequestDisconnect() {
	l.mu.Lock()
	s := l.current
	l.mu.Unlock()
	if s == nil {
		return
	}
	s.stop.Do(func() {
		l.status(fmt.Sprintf("Disconnecting from sensor at %s.", s.address))
		s.cancel()
	})
}

// Shutdown disconnects and waits for the session goroutine to finish.
func (l *Link) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	s := l.current
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	l.RequestDisconnect()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) run(s *session) {
	defer func() {
		s.cancel()
		l.setState(types.StateIdle)
		// current and the token change together, so a rejected connect
		// always names the sensor holding the link.
		l.mu.Lock()
		l.current = nil
		<-l.token
		l.mu.Unlock()
		close(s.done)
	}()

	for {
		conn, ok := l.connect(s)
		if !ok {
			return
		}
		dropped := l.listen(s, conn)
		if !dropped || !l.cfg.ReconnectOnDrop || s.ctx.Err() != nil {
			l.status(fmt.Sprintf("Discarded sensor at %s.", s.address))
			return
		}
		l.status(fmt.Sprintf("Lost connection to sensor at %s. Reconnecting.", s.address))
	}
}

// connect retries until a connection is established, the session is
// cancelled, or MaxRetries is exceeded.
func (l *Link) connect(s *session) (Conn, bool) {
	l.setState(types.StateConnecting)
	l.status(fmt.Sprintf("Connecting to sensor at %s (this might take a while).", s.address))

	failures := 0
	for {
		if s.ctx.Err() != nil {
			return nil, false
		}

		l.metrics.IncConnectAttempts()
		conn, err := l.transport.Connect(s.ctx, s.address)
		if err == nil {
			if s.ctx.Err() != nil {
				l.cleanup(conn)
				return nil, false
			}
			return conn, true
		}
		if s.ctx.Err() != nil {
			return nil, false
		}

		failures++
		l.metrics.IncConnectFailures()
		l.logger.Warn("connection attempt failed", map[string]any{
			"address": s.address,
			"attempt": failures,
			"error":   err.Error(),
		})

		if l.cfg.MaxRetries > 0 && failures > l.cfg.MaxRetries {
			l.status(fmt.Sprintf("Giving up on sensor at %s after %d attempts.", s.address, failures))
			return nil, false
		}

		delay := calculateBackoff(failures, l.cfg)
		l.status(fmt.Sprintf("Couldn't connect to sensor at %s: %v. Retrying in %s.", s.address, err, delay))

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return nil, false
		}
	}
}

// listen subscribes to notifications and blocks until the session's
// cancellation signal fires. It reports whether the signal came from a
// link drop rather than a user disconnect.
func (l *Link) listen(s *session, conn Conn) bool {
	ended := newOneshot()
	var dropped atomic.Bool

	onDrop := func() {
		dropped.Store(true)
		ended.fire()
	}
	onNotification := func(b []byte) {
		pkt := slices.Clone(b)
		select {
		case l.out <- pkt:
		case <-ended.c:
		}
	}

	stop := context.AfterFunc(s.ctx, ended.fire)
	defer stop()

	if err := conn.Subscribe(onNotification, onDrop); err != nil {
		l.logger.Warn("subscribe failed", map[string]any{
			"address": s.address,
			"error":   err.Error(),
		})
		l.status(fmt.Sprintf("Couldn't subscribe to heart rate notifications on %s: %v.", s.address, err))
		l.setState(types.StateDisconnecting)
		l.cleanup(conn)
		return true
	}

	l.setState(types.StateListening)
	l.metrics.IncSessionsStarted()
	l.status(fmt.Sprintf("Connected to sensor at %s.", s.address))

	<-ended.c

	wasDropped := dropped.Load() && s.ctx.Err() == nil
	if wasDropped {
		l.metrics.IncLinkDrops()
		l.logger.Warn("link dropped", map[string]any{"address": s.address})
	}

	l.setState(types.StateDisconnecting)
	l.cleanup(conn)
	return wasDropped
}

// cleanup tears a connection down. Failures are logged, never returned.
func (l *Link) cleanup(conn Conn) {
	if err := conn.StopNotifications(); err != nil {
		l.metrics.IncCleanupErrors()
		l.logger.Warn("couldn't stop notifications", map[string]any{"error": err.Error()})
	}
	if err := conn.Close(); err != nil {
		l.metrics.IncCleanupErrors()
		l.logger.Warn("couldn't close connection", map[string]any{"error": err.Error()})
	}
}

func (l *Link) setState(state types.ConnectionState) {
	l.mu.Lock()
	changed := l.state != state
	l.state = state
	l.mu.Unlock()
	if !changed {
		return
	}
	l.logger.Debug("connection state changed", map[string]any{"state": state.String()})
	l.publish(types.NewStateChange(time.Now(), state))
}

func (l *Link) status(message string) {
	l.logger.Info(message, nil)
	l.publish(types.NewStatus(time.Now(), message))
}

func (l *Link) publish(e *types.Event) {
	if l.emit == nil {
		return
	}
	if err := l.emit.Publish(e); err != nil {
		l.logger.Debug("event not published", map[string]any{
			"type":  string(e.Type),
			"error": err.Error(),
		})
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at
// MaxRetryDelay.
func calculateBackoff(attempt int, cfg LinkConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
