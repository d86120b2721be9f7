// Package adapter defines the boundary for publishing session events to
// downstream systems.
//
// The engine owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/justapithecus/openhrv/types"
)

// Envelope is the JSON shape published for every event.
type Envelope struct {
	SessionID string `json:"session_id,omitempty"`
	types.Event
}

// Marshal encodes e in an Envelope.
func Marshal(sessionID string, e *types.Event) ([]byte, error) {
	return json.Marshal(Envelope{SessionID: sessionID, Event: *e})
}

// LastValue renders the single value that best represents e: the message
// of a status, the state name, the newest sensor, or the scalar value.
func LastValue(e *types.Event) string {
	switch e.Type {
	case types.EventTypeStatus:
		return e.Message
	case types.EventTypeConnectionState:
		return e.State.String()
	case types.EventTypeSensors:
		if len(e.Items) == 0 {
			return ""
		}
		return e.Items[len(e.Items)-1]
	}
	return strconv.FormatFloat(e.Value, 'f', -1, 64)
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, e *types.Event) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry.
const BaseBackoff = 500 * time.Millisecond

// Retry runs op up to 1+retries times with exponential backoff between
// attempts (BaseBackoff, 2×, 4×, ...). An error for which permanent
// returns true stops the loop immediately. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, op func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
