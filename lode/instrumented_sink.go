package lode

import (
	"context"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/types"
)

// InstrumentedSink wraps a policy.Sink and counts write outcomes on the
// metrics collector.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteEvents delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteEvents(ctx context.Context, events []*types.Event) error {
	err := s.inner.WriteEvents(ctx, events)
	if err != nil {
		s.collector.IncLodeWriteFailure()
	} else {
		s.collector.IncLodeWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

// Verify InstrumentedSink implements policy.Sink.
var _ policy.Sink = (*InstrumentedSink)(nil)
