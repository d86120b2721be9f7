// Package types defines the core domain types shared across openhrv packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// EventType is the typed variant of an outbound event.
type EventType string

// Event type constants.
const (
	EventTypeIBI             EventType = "ibi_update"
	EventTypeHRV             EventType = "hrv_update"
	EventTypeBiofeedback     EventType = "biofeedback_update"
	EventTypeStatus          EventType = "status_update"
	EventTypeConnectionState EventType = "connection_state_changed"
	EventTypeTarget          EventType = "target_update"
	EventTypePacer           EventType = "pacer_update"
	EventTypeSensors         EventType = "sensors_update"
)

// Series is the name of an outbound series, as consumed by charts,
// recorders and publishers.
type Series string

// Series names.
const (
	SeriesIBI             Series = "InterBeatInterval"
	SeriesHRV             Series = "HeartRateVariability"
	SeriesBiofeedback     Series = "Biofeedback"
	SeriesStatus          Series = "ConnectionStatus"
	SeriesConnectionState Series = "ConnectionState"
	SeriesTarget          Series = "HrvTarget"
	SeriesPacer           Series = "PacerRate"
	SeriesSensors         Series = "Sensors"
)

// seriesByType maps each event type to the series it is published on.
var seriesByType = map[EventType]Series{
	EventTypeIBI:             SeriesIBI,
	EventTypeHRV:             SeriesHRV,
	EventTypeBiofeedback:     SeriesBiofeedback,
	EventTypeStatus:          SeriesStatus,
	EventTypeConnectionState: SeriesConnectionState,
	EventTypeTarget:          SeriesTarget,
	EventTypePacer:           SeriesPacer,
	EventTypeSensors:         SeriesSensors,
}

// Series returns the series name events of this type are published on.
func (e EventType) Series() Series {
	return seriesByType[e]
}

// IsSignal returns true for events derived from the heartbeat signal.
func (e EventType) IsSignal() bool {
	return e == EventTypeIBI || e == EventTypeHRV || e == EventTypeBiofeedback
}

// Event is the envelope for everything the core emits.
//
// Scalar events carry Value only. Series events carry a (Seconds, Values)
// pair for charting, with Value set to the most recent element.
type Event struct {
	// Seq is the monotonic sequence number assigned on publish, starts at 1.
	Seq int64 `msgpack:"seq" json:"seq"`
	// Type is the event variant.
	Type EventType `msgpack:"type" json:"type"`
	// Series is the outbound series name.
	Series Series `msgpack:"series" json:"series"`
	// Ts is the wall-clock time the event was produced.
	Ts time.Time `msgpack:"ts" json:"ts"`
	// Value is the scalar value, or the newest element of Values.
	Value float64 `msgpack:"value" json:"value"`
	// Seconds holds elapsed-time offsets (<= 0, newest = 0) for series events.
	Seconds []float64 `msgpack:"seconds,omitempty" json:"seconds,omitempty"`
	// Values holds the series values, oldest first.
	Values []float64 `msgpack:"values,omitempty" json:"values,omitempty"`
	// Message is the human-readable status for status events.
	Message string `msgpack:"message,omitempty" json:"message,omitempty"`
	// State is the link state for connection state events.
	State ConnectionState `msgpack:"state,omitempty" json:"state,omitempty"`
	// Items lists discovered sensors for sensors events.
	Items []string `msgpack:"items,omitempty" json:"items,omitempty"`
}

func newEvent(t EventType, ts time.Time) *Event {
	return &Event{Type: t, Series: t.Series(), Ts: ts}
}

func newSeriesEvent(t EventType, ts time.Time, seconds, values []float64) *Event {
	e := newEvent(t, ts)
	e.Seconds = seconds
	e.Values = values
	if n := len(values); n > 0 {
		e.Value = values[n-1]
	}
	return e
}

// NewIBIUpdate returns an InterBeatInterval series event.
func NewIBIUpdate(ts time.Time, seconds, values []float64) *Event {
	return newSeriesEvent(EventTypeIBI, ts, seconds, values)
}

// NewHRVUpdate returns a HeartRateVariability series event.
func NewHRVUpdate(ts time.Time, seconds, values []float64) *Event {
	return newSeriesEvent(EventTypeHRV, ts, seconds, values)
}

// NewBiofeedback returns a Biofeedback scalar event.
func NewBiofeedback(ts time.Time, score float64) *Event {
	e := newEvent(EventTypeBiofeedback, ts)
	e.Value = score
	return e
}

// NewStatus returns a ConnectionStatus message event.
func NewStatus(ts time.Time, message string) *Event {
	e := newEvent(EventTypeStatus, ts)
	e.Message = message
	return e
}

// NewStateChange returns a ConnectionState event.
func NewStateChange(ts time.Time, state ConnectionState) *Event {
	e := newEvent(EventTypeConnectionState, ts)
	e.State = state
	return e
}

// NewTargetUpdate returns a HrvTarget scalar event.
func NewTargetUpdate(ts time.Time, target float64) *Event {
	e := newEvent(EventTypeTarget, ts)
	e.Value = target
	return e
}

// NewPacerUpdate returns a PacerRate scalar event.
func NewPacerUpdate(ts time.Time, rate float64) *Event {
	e := newEvent(EventTypePacer, ts)
	e.Value = rate
	return e
}

// NewSensorsUpdate returns a Sensors event listing "name, address" entries.
func NewSensorsUpdate(ts time.Time, items []string) *Event {
	e := newEvent(EventTypeSensors, ts)
	e.Items = items
	e.Value = float64(len(items))
	return e
}
