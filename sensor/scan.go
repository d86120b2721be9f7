package sensor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/types"
)

// ErrScanInProgress is returned when a scan is requested while one runs.
var ErrScanInProgress = errors.New("scan already in progress")

// DefaultScanTimeout bounds a discovery scan.
const DefaultScanTimeout = 10 * time.Second

// Peripheral is an advertising device.
type Peripheral struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	RSSI    int16  `json:"rssi" yaml:"rssi"`
}

// Label formats the peripheral as "name, address".
func (p Peripheral) Label() string {
	return p.Name + ", " + p.Address
}

// Scanner lists nearby peripherals.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]Peripheral, error)
}

// IsCompatible reports whether a device name belongs to a supported
// sensor family.
func IsCompatible(name string) bool {
	for _, s := range types.CompatibleSensors {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// Discovery runs scans one at a time and reports results as events.
type Discovery struct {
	scanner Scanner
	emit    Emitter
	logger  *log.Logger
	running atomic.Bool
}

// NewDiscovery wraps scanner. logger may be nil.
func NewDiscovery(scanner Scanner, emit Emitter, logger *log.Logger) *Discovery {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Discovery{scanner: scanner, emit: emit, logger: logger}
}

// Scan collects compatible peripherals with RSSI <= 0, deduplicated by
// address, in discovery order.
func (d *Discovery) Scan(ctx context.Context, timeout time.Duration) ([]Peripheral, error) {
	if !d.running.CompareAndSwap(false, true) {
		d.status("Already searching for sensors.")
		return nil, ErrScanInProgress
	}
	defer d.running.Store(false)

	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	d.status("Searching for sensors (this might take a while).")

	found, err := d.scanner.Scan(ctx, timeout)
	if err != nil {
		d.logger.Warn("scan failed", map[string]any{"error": err.Error()})
		d.status(fmt.Sprintf("Couldn't search for sensors: %v.", err))
		return nil, err
	}

	sensors := FilterCompatible(found)
	if len(sensors) == 0 {
		d.status("Couldn't find sensors.")
	} else {
		d.status(fmt.Sprintf("Found %d sensor(s).", len(sensors)))
	}

	labels := make([]string, len(sensors))
	for i, s := range sensors {
		labels[i] = s.Label()
	}
	d.publish(types.NewSensorsUpdate(time.Now(), labels))
	return sensors, nil
}

// FilterCompatible keeps compatible peripherals with a plausible RSSI,
// first occurrence per address.
func FilterCompatible(found []Peripheral) []Peripheral {
	seen := make(map[string]bool, len(found))
	var out []Peripheral
	for _, p := range found {
		if !IsCompatible(p.Name) || p.RSSI > 0 {
			continue
		}
		key := strings.ToLower(p.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func (d *Discovery) status(message string) {
	d.logger.Info(message, nil)
	d.publish(types.NewStatus(time.Now(), message))
}

func (d *Discovery) publish(e *types.Event) {
	if d.emit == nil {
		return
	}
	_ = d.emit.Publish(e)
}
