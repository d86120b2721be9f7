package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// Serial bridge framing: FE <len> <payload...> FD.
const (
	SerialPreamble = 0xFE
	SerialEnd      = 0xFD
)

// DefaultBaud is the bridge firmware's default baud rate.
const DefaultBaud = 115200

// SerialPort is the subset of a serial port the bridge needs.
type SerialPort interface {
	io.ReadWriteCloser
}

// OpenSerialFunc opens a serial port.
type OpenSerialFunc func(name string, baud int) (SerialPort, error)

// OpenTarm opens a port with github.com/tarm/serial.
func OpenTarm(name string, baud int) (SerialPort, error) {
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: time.Millisecond * 500,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Serial is a Transport for a microcontroller that forwards Heart Rate
// Measurement notifications over a serial port. The address is the port
// name (e.g. /dev/ttyACM0).
type Serial struct {
	Baud int
	Open OpenSerialFunc

	badFrames atomic.Int64
}

// NewSerial creates a serial bridge transport using tarm/serial.
func NewSerial(baud int) *Serial {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &Serial{Baud: baud, Open: OpenTarm}
}

// Name implements Transport.
func (s *Serial) Name() string { return "serial" }

// ValidateAddress implements AddressValidator.
func (s *Serial) ValidateAddress(address string) error {
	return requireNonEmpty(address)
}

// BadFrames returns the number of malformed frames skipped.
func (s *Serial) BadFrames() int64 {
	return s.badFrames.Load()
}

// Connect implements Transport.
func (s *Serial) Connect(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := s.Open(address, s.Baud)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	return &serialConn{
		bridge: s,
		port:   port,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

type serialConn struct {
	bridge *Serial
	port   SerialPort

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (c *serialConn) Subscribe(onNotification func([]byte), onDrop func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("already subscribed")
	}
	c.started = true
	go c.read(onNotification, onDrop)
	return nil
}

func (c *serialConn) read(onNotification func([]byte), onDrop func()) {
	defer close(c.done)

	var parser FrameParser
	buf := make([]byte, 256)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			frames, bad := parser.Feed(buf[:n])
			c.bridge.badFrames.Add(int64(bad))
			for _, f := range frames {
				onNotification(f)
			}
		}
		// tarm/serial reports a read timeout as io.EOF with no data.
		if err != nil && err != io.EOF {
			select {
			case <-c.stop:
			default:
				onDrop()
			}
			return
		}
	}
}

func (c *serialConn) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *serialConn) StopNotifications() error {
	c.halt()
	return nil
}

func (c *serialConn) Close() error {
	c.halt()
	err := c.port.Close()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
	return err
}

// FrameParser extracts bridge frames from a byte stream. The zero value
// is ready to use.
type FrameParser struct {
	state   int
	want    int
	payload []byte
}

const (
	parseIdle = iota
	parseLength
	parsePayload
	parseEnd
)

// Feed consumes b and returns complete payloads and the number of
// malformed frames discarded. Bytes outside frames are ignored.
func (p *FrameParser) Feed(b []byte) (frames [][]byte, bad int) {
	for _, c := range b {
		switch p.state {
		case parseIdle:
			if c == SerialPreamble {
				p.state = parseLength
			}
		case parseLength:
			if c == 0 {
				bad++
				p.state = parseIdle
				continue
			}
			p.want = int(c)
			p.payload = make([]byte, 0, p.want)
			p.state = parsePayload
		case parsePayload:
			p.payload = append(p.payload, c)
			if len(p.payload) == p.want {
				p.state = parseEnd
			}
		case parseEnd:
			if c == SerialEnd {
				frames = append(frames, p.payload)
			} else {
				bad++
			}
			p.payload = nil
			p.state = parseIdle
		}
	}
	return frames, bad
}

// EncodeSerialFrame wraps a notification payload in bridge framing.
func EncodeSerialFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > 0xFF {
		return nil, fmt.Errorf("serial frame payload must be 1..255 bytes, got %d", len(payload))
	}
	out := make([]byte, 0, len(payload)+3)
	out = append(out, SerialPreamble, byte(len(payload)))
	out = append(out, payload...)
	return append(out, SerialEnd), nil
}
