// Package sensor owns the connection to a heart rate sensor.
//
// Link is the connection state machine. It is transport-agnostic: BLE,
// a serial bridge, a simulated sensor and capture replay all implement
// Transport.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Transport makes connection attempts to a sensor.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Connect makes a single connection attempt. Per-attempt timeouts are
	// the transport's responsibility; the Link only reacts to the error.
	// Connect must return promptly when ctx is cancelled.
	Connect(ctx context.Context, address string) (Conn, error)
}

// Conn is an established connection.
type Conn interface {
	// Subscribe enables Heart Rate Measurement notifications.
	//
	// onNotification is called once per notification, in arrival order,
	// with a buffer the callee may not retain. onDrop is called when the
	// link is lost. Both may run on transport-owned goroutines; neither
	// may be called after Close returns.
	Subscribe(onNotification func([]byte), onDrop func()) error

	// StopNotifications disables notifications.
	StopNotifications() error

	// Close releases the connection.
	Close() error
}

// AddressValidator is implemented by transports whose addresses are not
// Bluetooth MAC addresses or UUIDs.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// ErrInvalidAddress is returned for malformed sensor addresses.
var ErrInvalidAddress = errors.New("invalid sensor address")

var macPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`),
	regexp.MustCompile(`^[0-9a-f]{2}(-[0-9a-f]{2}){5}$`),
	regexp.MustCompile(`^[0-9a-f]{12}$`),
}

// ValidateAddress accepts a MAC address (colon, dash or no separators) or
// a UUID, as used by platforms that hide the MAC.
func ValidateAddress(address string) error {
	a := strings.ToLower(strings.TrimSpace(address))
	for _, re := range macPatterns {
		if re.MatchString(a) {
			return nil
		}
	}
	if strings.Count(a, "-") == 4 {
		if _, err := uuid.Parse(a); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is neither a MAC address nor a UUID", ErrInvalidAddress, address)
}

func validateFor(t Transport, address string) error {
	if v, ok := t.(AddressValidator); ok {
		return v.ValidateAddress(address)
	}
	return ValidateAddress(address)
}

func requireNonEmpty(address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	return nil
}
