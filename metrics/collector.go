// Package metrics provides process-wide counters for the sensor link, the
// signal pipeline and the output sinks.
//
// The Collector is a leaf package with no internal dependencies. Persistence
// policy counters are absorbed from policy.Stats at shutdown rather than
// recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Notifications
	PacketsReceived  int64
	PacketsWithoutRR int64
	DecodeErrors     int64

	// Signal pipeline
	IBIsAccepted  int64
	IBIsCorrected int64
	Reversals     int64
	HRVClamped    int64

	// Sensor link
	ConnectAttempts int64
	ConnectFailures int64
	ConnectRejected int64
	SessionsStarted int64
	LinkDrops       int64
	CleanupErrors   int64

	// Sinks / storage
	AdapterErrors    int64
	RecordErrors     int64
	LodeWriteSuccess int64
	LodeWriteFailure int64

	// Persistence (absorbed from policy.Stats at shutdown)
	EventsReceived  int64
	EventsPersisted int64
	EventsDropped   int64
	DroppedByType   map[string]int64

	// Dimensions (informational, set at construction)
	Transport      string
	StorageBackend string
	SessionID      string
}

// Collector accumulates counters for one process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	packetsReceived  int64
	packetsWithoutRR int64
	decodeErrors     int64
	ibisAccepted     int64
	ibisCorrected    int64
	reversals        int64
	hrvClamped       int64
	connectAttempts  int64
	connectFailures  int64
	connectRejected  int64
	sessionsStarted  int64
	linkDrops        int64
	cleanupErrors    int64
	adapterErrors    int64
	recordErrors     int64
	lodeWriteSuccess int64
	lodeWriteFailure int64

	eventsReceived  int64
	eventsPersisted int64
	eventsDropped   int64
	droppedByType   map[string]int64

	transport      string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transport, storageBackend, sessionID string) *Collector {
	return &Collector{
		droppedByType:  make(map[string]int64),
		transport:      transport,
		storageBackend: storageBackend,
		sessionID:      sessionID,
	}
}

// --- Notifications ---

// IncPacketsReceived records a heart rate notification received from the link.
func (c *Collector) IncPacketsReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsReceived++
	c.mu.Unlock()
}

// IncPacketsWithoutRR records a notification that carried no RR intervals.
func (c *Collector) IncPacketsWithoutRR() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsWithoutRR++
	c.mu.Unlock()
}

// IncDecodeErrors records a notification that failed to decode.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// --- Signal pipeline ---

// IncIBIsAccepted records an IBI that passed validation unchanged.
func (c *Collector) IncIBIsAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ibisAccepted++
	c.mu.Unlock()
}

// IncIBIsCorrected records an out-of-bounds IBI replaced by the trailing median.
func (c *Collector) IncIBIsCorrected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ibisCorrected++
	c.mu.Unlock()
}

// IncReversals records a detected IBI phase reversal (one local HRV sample).
func (c *Collector) IncReversals() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reversals++
	c.mu.Unlock()
}

// IncHRVClamped records a local HRV sample clamped by the smoother.
func (c *Collector) IncHRVClamped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.hrvClamped++
	c.mu.Unlock()
}

// --- Sensor link ---

// IncConnectAttempts records a transport connect attempt.
func (c *Collector) IncConnectAttempts() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectAttempts++
	c.mu.Unlock()
}

// IncConnectFailures records a failed transport connect attempt.
func (c *Collector) IncConnectFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectFailures++
	c.mu.Unlock()
}

// IncConnectRejected records a connect request rejected because a session was active.
func (c *Collector) IncConnectRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectRejected++
	c.mu.Unlock()
}

// IncSessionsStarted records a session reaching the listening state.
func (c *Collector) IncSessionsStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncLinkDrops records a link-dropped callback from the transport.
func (c *Collector) IncLinkDrops() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linkDrops++
	c.mu.Unlock()
}

// IncCleanupErrors records a failed best-effort teardown step.
func (c *Collector) IncCleanupErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cleanupErrors++
	c.mu.Unlock()
}

// --- Sinks / storage ---

// IncAdapterErrors records a failed publish to an adapter.
func (c *Collector) IncAdapterErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterErrors++
	c.mu.Unlock()
}

// IncRecordErrors records a failed recorder write.
func (c *Collector) IncRecordErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordErrors++
	c.mu.Unlock()
}

// IncLodeWriteSuccess records a successful Lode write operation (per-call).
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lodeWriteSuccess++
	c.mu.Unlock()
}

// IncLodeWriteFailure records a failed Lode write operation (per-call).
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lodeWriteFailure++
	c.mu.Unlock()
}

// --- Persistence (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies persistence counters from policy.Stats into the
// collector. The droppedByType keys are string-typed event types to keep this
// package free of dependencies on the types package.
func (c *Collector) AbsorbPolicyStats(totalEvents, persisted, dropped int64, droppedByType map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsReceived = totalEvents
	c.eventsPersisted = persisted
	c.eventsDropped = dropped
	c.droppedByType = make(map[string]int64, len(droppedByType))
	for k, v := range droppedByType {
		c.droppedByType[k] = v
	}
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := make(map[string]int64, len(c.droppedByType))
	for k, v := range c.droppedByType {
		dropped[k] = v
	}

	return Snapshot{
		PacketsReceived:  c.packetsReceived,
		PacketsWithoutRR: c.packetsWithoutRR,
		DecodeErrors:     c.decodeErrors,
		IBIsAccepted:     c.ibisAccepted,
		IBIsCorrected:    c.ibisCorrected,
		Reversals:        c.reversals,
		HRVClamped:       c.hrvClamped,
		ConnectAttempts:  c.connectAttempts,
		ConnectFailures:  c.connectFailures,
		ConnectRejected:  c.connectRejected,
		SessionsStarted:  c.sessionsStarted,
		LinkDrops:        c.linkDrops,
		CleanupErrors:    c.cleanupErrors,
		AdapterErrors:    c.adapterErrors,
		RecordErrors:     c.recordErrors,
		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		EventsReceived:  c.eventsReceived,
		EventsPersisted: c.eventsPersisted,
		EventsDropped:   c.eventsDropped,
		DroppedByType:   dropped,

		Transport:      c.transport,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}
