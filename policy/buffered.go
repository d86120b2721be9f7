package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferEvents is the maximum number of events to buffer.
	// Zero means no limit (use MaxBufferBytes instead).
	MaxBufferEvents int

	// MaxBufferBytes is the maximum buffer size in bytes (estimated).
	// Zero means no limit (use MaxBufferEvents instead).
	// At least one limit must be set.
	MaxBufferBytes int64

	// Logger is an optional logger for policy observability.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns defaults sized for a long session.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferEvents: 1000,
		MaxBufferBytes:  4 * 1024 * 1024,
	}
}

// ErrBufferFull is returned when buffer is full and event is non-droppable.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable event")

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferEvents or MaxBufferBytes must be set")

// BufferedPolicy implements buffered persistence with drop rules.
//
//   - Bounded buffer with explicit limits
//   - A full buffer is flushed before anything is dropped
//   - If the flush fails: droppable events are dropped, and a
//     non-droppable event evicts the oldest droppable one
//   - With nothing left to evict, ErrBufferFull is returned
//   - Flush writes the whole buffer; on failure the buffer is kept
//     (at-least-once, duplicates possible on retry)
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	// flushMu serializes flushes.
	flushMu sync.Mutex

	// mu guards buffer state and stats.
	mu          sync.Mutex
	eventBuffer []*types.Event
	bufferBytes int64
	stats       *statsRecorder
}

// NewBufferedPolicy creates a new buffered policy.
// Returns error if config is invalid.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferEvents <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:        sink,
		config:      config,
		logger:      config.Logger,
		eventBuffer: make([]*types.Event, 0, min(max(config.MaxBufferEvents, 100), 4096)),
		stats:       newStatsRecorder(),
	}, nil
}

// IngestEvent buffers the event, flushing or applying drop rules when the
// buffer is full.
func (p *BufferedPolicy) IngestEvent(ctx context.Context, e *types.Event) error {
	eventSize := estimateEventSize(e)

	p.mu.Lock()
	p.stats.incTotalEventsLocked()
	if p.hasRoomForEvent(eventSize) {
		p.appendEvent(e, eventSize)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Full: try to make room by flushing. A failed flush keeps the buffer.
	flushErr := p.Flush(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasRoomForEvent(eventSize) {
		p.appendEvent(e, eventSize)
		return nil
	}

	if IsDroppable(e.Type) {
		p.stats.incEventsDroppedLocked(e.Type)
		p.logDrop(e.Type, "buffer_full")
		return nil
	}

	if p.dropOldestDroppable() && p.hasRoomForEvent(eventSize) {
		p.appendEvent(e, eventSize)
		return nil
	}

	p.stats.incErrorsLocked()
	p.logBufferOverflow(e.Type)
	if flushErr != nil {
		return errors.Join(ErrBufferFull, flushErr)
	}
	return ErrBufferFull
}

// appendEvent adds an event to the buffer. Caller must hold mu.
func (p *BufferedPolicy) appendEvent(e *types.Event, eventSize int64) {
	p.eventBuffer = append(p.eventBuffer, e)
	p.bufferBytes += eventSize
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// Flush writes all buffered events to the sink. On failure the buffer is
// preserved; events ingested during the write are kept behind it.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.stats.incFlushLocked()
	events := p.eventBuffer
	if len(events) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.eventBuffer = make([]*types.Event, 0, cap(events))
	p.recalculateBufferBytes()
	p.mu.Unlock()

	if err := p.sink.WriteEvents(ctx, events); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.eventBuffer = append(events, p.eventBuffer...)
		p.recalculateBufferBytes()
		p.mu.Unlock()
		p.logFlushFailure(err)
		return err
	}

	p.mu.Lock()
	p.stats.incEventsPersistedLocked(int64(len(events)))
	p.mu.Unlock()
	return nil
}

// recalculateBufferBytes recalculates bufferBytes. Caller must hold mu.
func (p *BufferedPolicy) recalculateBufferBytes() {
	var total int64
	for _, e := range p.eventBuffer {
		total += estimateEventSize(e)
	}
	p.bufferBytes = total
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// Close flushes remaining data and closes the sink.
func (p *BufferedPolicy) Close() error {
	// Best-effort flush on close
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot of policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats.snapshotLocked(p.bufferBytes)
}

// hasRoomForEvent checks if the buffer can accept an event of the given size.
func (p *BufferedPolicy) hasRoomForEvent(eventSize int64) bool {
	if p.config.MaxBufferEvents > 0 && len(p.eventBuffer) >= p.config.MaxBufferEvents {
		return false
	}
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+eventSize > p.config.MaxBufferBytes {
		return false
	}
	return true
}

// dropOldestDroppable removes the oldest droppable event from the buffer.
// Returns false if no droppable events exist. Caller must hold mu.
func (p *BufferedPolicy) dropOldestDroppable() bool {
	for i, e := range p.eventBuffer {
		if IsDroppable(e.Type) {
			p.eventBuffer = append(p.eventBuffer[:i], p.eventBuffer[i+1:]...)
			p.bufferBytes -= estimateEventSize(e)
			p.stats.setBufferSizeLocked(p.bufferBytes)
			p.stats.incEventsDroppedLocked(e.Type)
			p.logDrop(e.Type, "evicted_for_non_droppable")
			return true
		}
	}
	return false
}

// --- Logging helpers ---

func (p *BufferedPolicy) logDrop(eventType types.EventType, reason string) {
	if p.logger == nil {
		return
	}
	p.logger.Warn("event dropped", map[string]any{
		"event_type": string(eventType),
		"reason":     reason,
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logBufferOverflow(eventType types.EventType) {
	if p.logger == nil {
		return
	}
	p.logger.Error("buffer overflow", map[string]any{
		"event_type": string(eventType),
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"error":  err.Error(),
		"policy": "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
