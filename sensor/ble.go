package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// DefaultBLEScanTimeout bounds the scan that resolves an address before
// each connection attempt.
const DefaultBLEScanTimeout = 15 * time.Second

// BLE is the Bluetooth Low Energy transport. It connects to the Heart Rate
// service (0x180D) and subscribes to Heart Rate Measurement (0x2A37).
type BLE struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error

	// scanMu serializes adapter scans; the adapter supports one at a time.
	scanMu sync.Mutex

	mu     sync.Mutex
	active *bleConn
}

// NewBLE creates a BLE transport on the default adapter.
func NewBLE(scanTimeout time.Duration) *BLE {
	if scanTimeout <= 0 {
		scanTimeout = DefaultBLEScanTimeout
	}
	return &BLE{adapter: bluetooth.DefaultAdapter, scanTimeout: scanTimeout}
}

// Name implements Transport.
func (b *BLE) Name() string { return "ble" }

func (b *BLE) enable() error {
	b.enableOnce.Do(func() {
		if err := b.adapter.Enable(); err != nil {
			b.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", err)
			return
		}
		b.adapter.SetConnectHandler(b.onConnectEvent)
	})
	return b.enableErr
}

// onConnectEvent routes adapter-wide disconnect events to the active
// connection. It only signals; it never performs I/O.
func (b *BLE) onConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	b.mu.Lock()
	c := b.active
	b.mu.Unlock()
	if c != nil && sameAddress(c.address, device.Address.String()) {
		c.dropped()
	}
}

// Scan implements Scanner.
func (b *BLE) Scan(ctx context.Context, timeout time.Duration) ([]Peripheral, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}
	var (
		mu    sync.Mutex
		found []Peripheral
	)
	err := b.scan(ctx, timeout, func(r bluetooth.ScanResult) bool {
		mu.Lock()
		found = append(found, Peripheral{
			Name:    r.LocalName(),
			Address: r.Address.String(),
			RSSI:    r.RSSI,
		})
		mu.Unlock()
		return false
	})
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// scan runs an adapter scan until visit returns true, ctx is done, or
// timeout elapses.
func (b *BLE) scan(ctx context.Context, timeout time.Duration, visit func(bluetooth.ScanResult) bool) error {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { _ = b.adapter.StopScan() })
	}
	halt := context.AfterFunc(ctx, stop)
	defer halt()

	errc := make(chan error, 1)
	go func() {
		errc <- b.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			if visit(r) || ctx.Err() != nil {
				stop()
			}
		})
	}()

	err := <-errc
	if err != nil {
		return fmt.Errorf("bluetooth scan failed: %w", err)
	}
	return nil
}

// Connect implements Transport. The address is resolved by scanning,
// since platforms differ in how addresses are constructed.
func (b *BLE) Connect(ctx context.Context, address string) (Conn, error) {
	if err := b.enable(); err != nil {
		return nil, err
	}

	var (
		target bluetooth.Address
		seen   bool
	)
	err := b.scan(ctx, b.scanTimeout, func(r bluetooth.ScanResult) bool {
		if sameAddress(address, r.Address.String()) {
			target = r.Address
			seen = true
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !seen {
		return nil, fmt.Errorf("sensor %s not advertising", address)
	}

	device, err := b.adapter.Connect(target, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	char, err := heartRateCharacteristic(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	c := &bleConn{transport: b, address: address, device: device, char: char}
	b.mu.Lock()
	b.active = c
	b.mu.Unlock()
	return c, nil
}

func heartRateCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDHeartRate})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed to discover heart rate service: %w", err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, errors.New("heart rate service not found")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDHeartRateMeasurement})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed to discover heart rate measurement: %w", err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, errors.New("heart rate measurement characteristic not found")
	}
	return chars[0], nil
}

type bleConn struct {
	transport *BLE
	address   string
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic

	mu     sync.Mutex
	onDrop func()
	closed bool
}

func (c *bleConn) Subscribe(onNotification func([]byte), onDrop func()) error {
	c.mu.Lock()
	c.onDrop = onDrop
	c.mu.Unlock()
	return c.char.EnableNotifications(func(buf []byte) {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			onNotification(buf)
		}
	})
}

func (c *bleConn) dropped() {
	c.mu.Lock()
	onDrop := c.onDrop
	c.mu.Unlock()
	if onDrop != nil {
		onDrop()
	}
}

func (c *bleConn) StopNotifications() error {
	return c.char.EnableNotifications(nil)
}

func (c *bleConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.onDrop = nil
	c.mu.Unlock()

	c.transport.mu.Lock()
	if c.transport.active == c {
		c.transport.active = nil
	}
	c.transport.mu.Unlock()

	return c.device.Disconnect()
}

func sameAddress(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.NewReplacer(":", "", "-", "").Replace(s)
	}
	return norm(a) == norm(b)
}
