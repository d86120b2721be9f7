package engine

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/openhrv/adapter"
	"github.com/justapithecus/openhrv/log"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// DispatchConfig configures the adapter dispatcher.
type DispatchConfig struct {
	// Parallel is the maximum number of in-flight adapter publishes.
	// With Parallel 1 every adapter sees events in bus order.
	Parallel int
	// Timeout bounds a single adapter publish.
	Timeout time.Duration
	// Buffer is the bus subscription capacity. Events arriving while the
	// buffer is full are dropped for the dispatcher only.
	Buffer int
}

// DefaultDispatchConfig returns the dispatcher defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Parallel: 4,
		Timeout:  5 * time.Second,
		Buffer:   256,
	}
}

// Target is a named publish adapter.
type Target struct {
	Name    string
	Adapter adapter.Adapter
}

// DispatchResult aggregates dispatcher statistics.
type DispatchResult struct {
	// Received is the number of events taken off the bus.
	Received int64
	// Published is the number of successful adapter publishes.
	Published int64
	// Failed is the number of failed adapter publishes.
	Failed int64
	// FailedByTarget breaks Failed down per adapter name.
	FailedByTarget map[string]int64
}

// Dispatcher forwards bus events to publish adapters with bounded
// concurrency. Adapter failures are logged and counted; they never block
// the bus beyond the subscription buffer.
type Dispatcher struct {
	config  DispatchConfig
	targets []Target
	logger  *log.Logger
	metrics *metrics.Collector

	received  atomic.Int64
	published atomic.Int64
	failed    atomic.Int64

	failedMu       sync.Mutex
	failedByTarget map[string]int64
}

// NewDispatcher creates a dispatcher over targets.
func NewDispatcher(config DispatchConfig, targets []Target, logger *log.Logger, collector *metrics.Collector) *Dispatcher {
	defaults := DefaultDispatchConfig()
	if config.Parallel <= 0 {
		config.Parallel = defaults.Parallel
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Buffer <= 0 {
		config.Buffer = defaults.Buffer
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{
		config:         config,
		targets:        targets,
		logger:         logger,
		metrics:        collector,
		failedByTarget: make(map[string]int64),
	}
}

// Run publishes events until stop is closed, then drains whatever is
// still buffered in events and waits for in-flight publishes.
func (d *Dispatcher) Run(ctx context.Context, events <-chan *types.Event, stop <-chan struct{}) {
	sem := make(chan struct{}, d.config.Parallel)
	var wg sync.WaitGroup

	dispatch := func(e *types.Event) {
		d.received.Add(1)
		for _, t := range d.targets {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(t Target) {
				defer wg.Done()
				defer func() { <-sem }()
				d.publish(ctx, t, e)
			}(t)
		}
	}

	for {
		select {
		case e := <-events:
			dispatch(e)
		case <-stop:
			for {
				select {
				case e := <-events:
					dispatch(e)
				default:
					wg.Wait()
					return
				}
			}
		case <-ctx.Done():
			wg.Wait()
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, t Target, e *types.Event) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Timeout)
	defer cancel()

	if err := t.Adapter.Publish(pubCtx, e); err != nil {
		d.failed.Add(1)
		d.metrics.IncAdapterErrors()
		d.failedMu.Lock()
		d.failedByTarget[t.Name]++
		d.failedMu.Unlock()
		d.logger.Warn("adapter publish failed", map[string]any{
			"adapter": t.Name,
			"type":    string(e.Type),
			"seq":     e.Seq,
			"error":   err.Error(),
		})
		return
	}
	d.published.Add(1)
}

// Results returns the aggregate dispatcher statistics.
func (d *Dispatcher) Results() DispatchResult {
	d.failedMu.Lock()
	byTarget := maps.Clone(d.failedByTarget)
	d.failedMu.Unlock()

	return DispatchResult{
		Received:       d.received.Load(),
		Published:      d.published.Load(),
		Failed:         d.failed.Load(),
		FailedByTarget: byTarget,
	}
}
