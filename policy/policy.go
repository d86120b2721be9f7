// Package policy controls how session events reach persistent storage.
//
// Signal events (IBI, HRV, biofeedback) and control events (state, target,
// pacer) are never dropped. Status and sensor-list events may be dropped
// by a buffered policy under pressure.
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/openhrv/types"
)

// Policy defines the persistence policy interface.
type Policy interface {
	// IngestEvent handles an event.
	// May drop droppable event types (status_update, sensors_update).
	// Must not drop other types; returns an error instead.
	IngestEvent(ctx context.Context, e *types.Event) error

	// Flush flushes any buffered events.
	// Called on session end and shutdown.
	Flush(ctx context.Context) error

	// Close flushes and releases policy resources, including the sink.
	Close() error

	// Stats returns an atomic snapshot of policy metrics.
	Stats() Stats
}

// Stats represents policy observability metrics.
type Stats struct {
	// TotalEvents is the total number of events received.
	TotalEvents int64
	// EventsPersisted is the number of events persisted.
	EventsPersisted int64
	// EventsDropped is the total number of events dropped.
	EventsDropped int64
	// DroppedByType maps event types to drop counts.
	DroppedByType map[types.EventType]int64
	// BufferSize is the current buffer size in bytes (if buffered).
	BufferSize int64
	// FlushCount is the number of flush operations.
	FlushCount int64
	// Errors is the count of non-fatal errors encountered.
	Errors int64
}

// DroppedByTypeStrings returns DroppedByType keyed by plain strings.
func (s Stats) DroppedByTypeStrings() map[string]int64 {
	out := make(map[string]int64, len(s.DroppedByType))
	for k, v := range s.DroppedByType {
		out[string(k)] = v
	}
	return out
}

var droppableTypes = map[types.EventType]bool{
	types.EventTypeStatus:  true,
	types.EventTypeSensors: true,
}

// IsDroppable returns true if the event type may be dropped by policy.
func IsDroppable(eventType types.EventType) bool {
	return droppableTypes[eventType]
}

// DroppableTypes returns the set of event types that may be dropped.
func DroppableTypes() map[types.EventType]bool {
	result := make(map[types.EventType]bool, len(droppableTypes))
	for k, v := range droppableTypes {
		result[k] = v
	}
	return result
}

// estimateEventSize returns a rough size in bytes for buffer accounting.
func estimateEventSize(e *types.Event) int64 {
	size := int64(128)
	size += int64(16 * len(e.Values))
	size += int64(len(e.Message))
	for _, item := range e.Items {
		size += int64(len(item))
	}
	return size
}

// statsRecorder is an internal helper for thread-safe stats management.
// Policies call explicit methods to record mutations; the recorder does
// not infer or automate any policy decisions.
//
// Lock discipline:
//   - StrictPolicy uses the locking methods (incTotalEvents, snapshot, etc.)
//   - BufferedPolicy and StreamingPolicy use the Locked methods only while
//     holding their own mu, so buffer state and counters move together.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: Stats{
			DroppedByType: make(map[types.EventType]int64),
		},
	}
}

func (r *statsRecorder) incTotalEvents() {
	r.mu.Lock()
	r.stats.TotalEvents++
	r.mu.Unlock()
}

func (r *statsRecorder) incEventsPersisted(n int64) {
	r.mu.Lock()
	r.stats.EventsPersisted += n
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.stats.BufferSize)
}

// --- Locked methods ---
// Caller must hold the owning policy's mu.

func (r *statsRecorder) incTotalEventsLocked() {
	r.stats.TotalEvents++
}

func (r *statsRecorder) incEventsPersistedLocked(n int64) {
	r.stats.EventsPersisted += n
}

func (r *statsRecorder) incEventsDroppedLocked(eventType types.EventType) {
	r.stats.EventsDropped++
	r.stats.DroppedByType[eventType]++
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

func (r *statsRecorder) setBufferSizeLocked(bytes int64) {
	r.stats.BufferSize = bytes
}

// snapshotLocked returns a copy of stats with the given bufferSize.
func (r *statsRecorder) snapshotLocked(bufferSize int64) Stats {
	s := r.stats
	s.BufferSize = bufferSize
	s.DroppedByType = make(map[types.EventType]int64, len(r.stats.DroppedByType))
	for k, v := range r.stats.DroppedByType {
		s.DroppedByType[k] = v
	}
	return s
}
