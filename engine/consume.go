package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/types"
)

// PersistError reports the first event the persistence policy refused.
type PersistError struct {
	// Type is the event type that failed.
	Type types.EventType
	// Seq is the bus sequence number of the event.
	Seq int64
	// Err is the underlying policy or sink error.
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s event %d: %v", e.Type, e.Seq, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err carries a PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// consume calls handle for every event until stop is closed, then drains
// what is still buffered. The bus must be closed before stop so that no
// event arrives after the drain.
func consume(events <-chan *types.Event, stop <-chan struct{}, handle func(*types.Event)) {
	for {
		select {
		case e := <-events:
			handle(e)
		case <-stop:
			for {
				select {
				case e := <-events:
					handle(e)
				default:
					return
				}
			}
		}
	}
}

// persister feeds the persistence policy from a lossless subscription.
type persister struct {
	policy policy.Policy
	logger *log.Logger

	mu       sync.Mutex
	firstErr *PersistError
	failures int64
}

func newPersister(p policy.Policy, logger *log.Logger) *persister {
	return &persister{policy: p, logger: logger}
}

func (p *persister) ingest(ctx context.Context, e *types.Event) {
	err := p.policy.IngestEvent(ctx, e)
	if err == nil {
		return
	}

	p.mu.Lock()
	p.failures++
	if p.firstErr == nil {
		p.firstErr = &PersistError{Type: e.Type, Seq: e.Seq, Err: err}
	}
	p.mu.Unlock()

	p.logger.Error("persist failed", map[string]any{
		"type":  string(e.Type),
		"seq":   e.Seq,
		"error": err.Error(),
	})
}

// err returns the first persist failure, or nil.
func (p *persister) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr == nil {
		return nil
	}
	return p.firstErr
}

func (p *persister) failureCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
