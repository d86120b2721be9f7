package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/openhrv/capture"
)

// Replay is a Transport that plays a capture file back. The original
// inter-notification delays are divided by Speed; a Speed of 0 plays as
// fast as the consumer accepts. End of file is reported as a link drop.
type Replay struct {
	path  string
	speed float64

	skipped atomic.Int64
}

// NewReplay creates a replay transport for the capture at path.
func NewReplay(path string, speed float64) *Replay {
	if speed < 0 {
		speed = 0
	}
	return &Replay{path: path, speed: speed}
}

// Name implements Transport.
func (r *Replay) Name() string { return "replay" }

// ValidateAddress implements AddressValidator. The address only labels
// the session.
func (r *Replay) ValidateAddress(address string) error {
	return requireNonEmpty(address)
}

// Skipped returns the number of undecodable frames skipped so far.
func (r *Replay) Skipped() int64 {
	return r.skipped.Load()
}

// Connect implements Transport.
func (r *Replay) Connect(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	cr, err := capture.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read capture %s: %w", r.path, err)
	}
	return &replayConn{
		replay: r,
		file:   f,
		reader: cr,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

type replayConn struct {
	replay *Replay
	file   *os.File
	reader *capture.Reader

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (c *replayConn) Subscribe(onNotification func([]byte), onDrop func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("already subscribed")
	}
	c.started = true
	go c.play(onNotification, onDrop)
	return nil
}

func (c *replayConn) play(onNotification func([]byte), onDrop func()) {
	defer close(c.done)

	var prev time.Time
	for {
		n, err := c.reader.Next()
		if err != nil {
			if err != io.EOF && !capture.IsFatalFrameError(err) {
				c.replay.skipped.Add(1)
				continue
			}
			select {
			case <-c.stop:
			default:
				onDrop()
			}
			return
		}

		if c.replay.speed > 0 && !prev.IsZero() {
			if gap := n.Ts.Sub(prev); gap > 0 {
				select {
				case <-time.After(time.Duration(float64(gap) / c.replay.speed)):
				case <-c.stop:
					return
				}
			}
		}
		prev = n.Ts

		select {
		case <-c.stop:
			return
		default:
		}
		onNotification(n.Data)
	}
}

func (c *replayConn) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *replayConn) StopNotifications() error {
	c.halt()
	return nil
}

func (c *replayConn) Close() error {
	c.halt()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
	return c.file.Close()
}
