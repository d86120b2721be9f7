package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/justapithecus/openhrv/gatt"
	"github.com/justapithecus/openhrv/types"
)

// SimConfig shapes the simulated IBI signal.
type SimConfig struct {
	// MeanIBI is the center of the oscillation in ms.
	MeanIBI int
	// RangeIBI is the peak-to-peak amplitude in ms.
	RangeIBI int
	// BreathingRate in breaths per minute drives the oscillation.
	BreathingRate float64
	// Jitter adds uniform noise in [-Jitter, Jitter] ms to each IBI.
	Jitter int
	// Speed scales wall-clock pacing. 2 emits beats twice as fast.
	Speed float64
	// FailConnects makes the first N connection attempts fail.
	FailConnects int
	// Seed seeds the jitter source.
	Seed uint64
}

// DefaultSimConfig returns a 1000 ms mean with a 150 ms swing at 6
// breaths per minute.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		MeanIBI:       types.RestingIBI,
		RangeIBI:      150,
		BreathingRate: 6,
		Speed:         1,
	}
}

// Sim is a Transport producing synthetic Heart Rate Measurement packets.
// It accepts any non-empty address.
type Sim struct {
	cfg SimConfig

	mu       sync.Mutex
	failures int
	active   *simConn
}

// NewSim creates a simulated sensor transport.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.MeanIBI == 0 {
		cfg.MeanIBI = types.RestingIBI
	}
	return &Sim{cfg: cfg}
}

// Name implements Transport.
func (s *Sim) Name() string { return "sim" }

// ValidateAddress implements AddressValidator.
func (s *Sim) ValidateAddress(address string) error {
	return requireNonEmpty(address)
}

// Connect implements Transport.
func (s *Sim) Connect(ctx context.Context, address string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures < s.cfg.FailConnects {
		s.failures++
		return nil, fmt.Errorf("simulated connect failure %d/%d", s.failures, s.cfg.FailConnects)
	}
	c := &simConn{
		sim:  s,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.active = c
	return c, nil
}

// Drop simulates losing the link on the active connection.
func (s *Sim) Drop() {
	s.mu.Lock()
	c := s.active
	s.mu.Unlock()
	if c != nil {
		c.dropLink()
	}
}

// Scan implements Scanner with three mock peripherals.
func (s *Sim) Scan(ctx context.Context, _ time.Duration) ([]Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Peripheral, 3)
	for i := range out {
		out[i] = Peripheral{
			Name:    fmt.Sprintf("Polar H10 SIM%d", i+1),
			Address: fmt.Sprintf("sim-%d", i+1),
			RSSI:    int16(-40 - 10*i),
		}
	}
	return out, nil
}

// IBIAt returns the noiseless simulated IBI at elapsed seconds t.
func (cfg SimConfig) IBIAt(t float64) int {
	amp := float64(cfg.RangeIBI) / 2
	v := float64(cfg.MeanIBI) + amp*math.Sin(2*math.Pi*cfg.BreathingRate/60*t)
	return int(math.Round(v))
}

type simConn struct {
	sim *Sim

	mu      sync.Mutex
	onDrop  func()
	started bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *simConn) Subscribe(onNotification func([]byte), onDrop func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("already subscribed")
	}
	select {
	case <-c.stop:
		return errors.New("connection closed")
	default:
	}
	c.started = true
	c.onDrop = onDrop
	go c.emit(onNotification)
	return nil
}

func (c *simConn) emit(onNotification func([]byte)) {
	defer close(c.done)

	cfg := c.sim.cfg
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	elapsed := 0.0

	for {
		ibi := cfg.IBIAt(elapsed)
		if cfg.Jitter > 0 {
			ibi += rng.IntN(2*cfg.Jitter+1) - cfg.Jitter
		}
		ibi = max(ibi, 1)
		elapsed += float64(ibi) / 1000

		wait := time.Duration(float64(ibi) * float64(time.Millisecond) / cfg.Speed)
		select {
		case <-time.After(wait):
		case <-c.stop:
			return
		}

		pkt := gatt.Encode(&gatt.Measurement{
			HeartRate: uint16(60000 / ibi),
			Contact:   gatt.ContactDetected,
			RR:        []uint16{gatt.MillisToRR(ibi)},
		})
		onNotification(pkt)
	}
}

func (c *simConn) dropLink() {
	c.mu.Lock()
	onDrop := c.onDrop
	c.mu.Unlock()
	c.halt()
	if onDrop != nil {
		onDrop()
	}
}

func (c *simConn) halt() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func (c *simConn) StopNotifications() error {
	c.halt()
	return nil
}

func (c *simConn) Close() error {
	c.halt()
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
	c.sim.mu.Lock()
	if c.sim.active == c {
		c.sim.active = nil
	}
	c.sim.mu.Unlock()
	return nil
}
