// Package lode persists session events into a Lode dataset.
//
// Records are JSONL, Hive-partitioned by session_id/day/event_type, on the
// local filesystem or S3.
package lode

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/policy"
	"github.com/justapithecus/openhrv/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "openhrv"

// Config holds Lode sink configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// SessionID is the partition key for the session.
	SessionID string
	// Day is the partition key derived from session start (YYYY-MM-DD UTC).
	Day string
	// Transport is the sensor transport name, stored on every record.
	Transport string
	// Address is the configured sensor address, if any.
	Address string
	// Policy is the ingestion policy name, stored on summaries.
	Policy string
}

// ConfigFromSession derives a Config from session metadata.
func ConfigFromSession(dataset string, meta *types.SessionMeta, policyName string) Config {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return Config{
		Dataset:   dataset,
		SessionID: meta.SessionID,
		Day:       meta.Day(),
		Transport: meta.Transport,
		Address:   meta.Address,
		Policy:    policyName,
	}
}

// Client abstracts the Lode storage client.
type Client interface {
	// WriteEvents writes a batch of events. Must preserve ordering within
	// the batch.
	WriteEvents(ctx context.Context, events []*types.Event) error

	// WriteSummary writes the end-of-session metrics record.
	WriteSummary(ctx context.Context, snap metrics.Snapshot, endedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// Sink is a Lode-backed implementation of policy.Sink.
type Sink struct {
	client Client
}

// NewSink creates a new Lode sink.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteEvents implements policy.Sink.
func (s *Sink) WriteEvents(ctx context.Context, events []*types.Event) error {
	return s.client.WriteEvents(ctx, events)
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Verify Sink implements policy.Sink.
var _ policy.Sink = (*Sink)(nil)

// StubClient is a test client that records writes without persisting.
type StubClient struct {
	mu        sync.Mutex
	Batches   [][]*types.Event
	Summaries []metrics.Snapshot
	Closed    bool
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteEvents implements Client.
func (c *StubClient) WriteEvents(_ context.Context, events []*types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Batches = append(c.Batches, events)
	return nil
}

// WriteSummary implements Client.
func (c *StubClient) WriteSummary(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Summaries = append(c.Summaries, snap)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Verify StubClient implements Client.
var _ Client = (*StubClient)(nil)
