package lode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"session_id", "day", "event_type"}

// LodeClient is a real Lode-backed implementation of Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	// mu serializes dataset writes.
	mu sync.Mutex

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a new Lode client with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a new Lode client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
	}
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteEvents writes a batch of events as one snapshot. Records are
// partitioned by event_type.
func (c *LodeClient) WriteEvents(ctx context.Context, events []*types.Event) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]any, 0, len(events))
	for _, e := range events {
		records = append(records, toEventRecordMap(e, c.config))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.sessionPath())
	}
	return nil
}

// WriteSummary writes the end-of-session metrics record.
func (c *LodeClient) WriteSummary(ctx context.Context, snap metrics.Snapshot, endedAt time.Time) error {
	record := toSummaryRecordMap(snap, endedAt, c.config)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.sessionPath())
	}
	return nil
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func (c *LodeClient) sessionPath() string {
	return fmt.Sprintf("%s/session_id=%s", c.config.Dataset, c.config.SessionID)
}

// Verify LodeClient implements Client.
var _ Client = (*LodeClient)(nil)
