package lode

import (
	"maps"
	"time"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// Record kind discriminator values.
const (
	RecordKindEvent   = "event"
	RecordKindSummary = "session_summary"
)

// summaryEventType is the event_type partition for session summaries.
const summaryEventType = "session_summary"

// EventRecord is the storage format for a core event, as read back by
// ReadSessionEvents.
type EventRecord struct {
	// Record discriminator
	RecordKind string `json:"record_kind"`

	// Event fields
	Seq     int64     `json:"seq"`
	Type    string    `json:"type"`
	Series  string    `json:"series"`
	Ts      string    `json:"ts"`
	Value   float64   `json:"value"`
	Seconds []float64 `json:"seconds,omitempty"`
	Values  []float64 `json:"values,omitempty"`
	Message string    `json:"message,omitempty"`
	State   string    `json:"state,omitempty"`
	Items   []string  `json:"items,omitempty"`

	// Session context
	Transport string `json:"transport"`
	Address   string `json:"address,omitempty"`

	// Partition keys (used by Lode HiveLayout)
	SessionID string `json:"session_id"`
	Day       string `json:"day"`
	EventType string `json:"event_type"`
}

// toEventRecordMap converts an event to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toEventRecordMap(e *types.Event, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindEvent,
		"seq":         e.Seq,
		"type":        string(e.Type),
		"series":      string(e.Series),
		"ts":          e.Ts.UTC().Format(time.RFC3339Nano),
		"value":       e.Value,
		"transport":   cfg.Transport,
		"session_id":  cfg.SessionID,
		"day":         cfg.Day,
		"event_type":  string(e.Type), // partition key
	}
	if len(e.Values) > 0 {
		m["seconds"] = e.Seconds
		m["values"] = e.Values
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	if e.State != "" {
		m["state"] = string(e.State)
	}
	if len(e.Items) > 0 {
		m["items"] = e.Items
	}
	if cfg.Address != "" {
		m["address"] = cfg.Address
	}
	return m
}

// toSummaryRecordMap converts an end-of-session metrics snapshot to a map
// for Lode storage. DroppedByType is deep-copied.
func toSummaryRecordMap(snap metrics.Snapshot, endedAt time.Time, cfg Config) map[string]any {
	dropped := make(map[string]int64, len(snap.DroppedByType))
	maps.Copy(dropped, snap.DroppedByType)

	m := map[string]any{
		"record_kind":        RecordKindSummary,
		"ts":                 endedAt.UTC().Format(time.RFC3339Nano),
		"packets_received":   snap.PacketsReceived,
		"packets_without_rr": snap.PacketsWithoutRR,
		"decode_errors":      snap.DecodeErrors,
		"ibis_accepted":      snap.IBIsAccepted,
		"ibis_corrected":     snap.IBIsCorrected,
		"reversals":          snap.Reversals,
		"hrv_clamped":        snap.HRVClamped,
		"connect_attempts":   snap.ConnectAttempts,
		"connect_failures":   snap.ConnectFailures,
		"sessions_started":   snap.SessionsStarted,
		"link_drops":         snap.LinkDrops,
		"events_received":    snap.EventsReceived,
		"events_persisted":   snap.EventsPersisted,
		"events_dropped":     snap.EventsDropped,
		"dropped_by_type":    dropped,
		"transport":          cfg.Transport,
		"policy":             cfg.Policy,
		"storage_backend":    snap.StorageBackend,
		"session_id":         cfg.SessionID,
		"day":                cfg.Day,
		"event_type":         summaryEventType, // partition key
	}
	if cfg.Address != "" {
		m["address"] = cfg.Address
	}
	return m
}
