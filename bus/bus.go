// Package bus distributes events from the engine to observers.
//
// Subscribers register a channel. Regular subscribers are lossy: when
// their channel is full the event is dropped for them and counted, so a
// slow chart or websocket client never stalls the signal path. Lossless
// subscribers (recorders, persistence) receive every event; Publish waits
// for them until they accept or unsubscribe.
//
// The bus never closes subscriber channels, and subscribers must not close
// them either. Consumers stop by cancelling their own context and then
// calling Unsubscribe.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/justapithecus/openhrv/types"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrClosed is returned when operations are attempted on a closed bus.
	ErrClosed = errors.New("bus is closed")
)

// Stats contains global and per-subscriber counters.
type Stats struct {
	// TotalPublished is the number of Publish calls that were accepted.
	TotalPublished uint64
	// TotalSent is the sum of events delivered to all subscribers.
	TotalSent uint64
	// TotalDropped is the sum of events dropped across all subscribers.
	TotalDropped uint64
	// Subscribers contains the per-subscriber breakdown.
	Subscribers map[string]SubscriberStats
}

// SubscriberStats tracks counters for a single subscriber.
type SubscriberStats struct {
	Sent     uint64
	Dropped  uint64
	Lossless bool
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscriber)

// Lossless makes Publish wait for this subscriber instead of dropping.
func Lossless() SubscribeOption {
	return func(s *subscriber) { s.lossless = true }
}

// Types restricts the subscription to the given event types.
func Types(ts ...types.EventType) SubscribeOption {
	return func(s *subscriber) {
		s.filter = make(map[types.EventType]bool, len(ts))
		for _, t := range ts {
			s.filter[t] = true
		}
	}
}

type subscriber struct {
	ch       chan<- *types.Event
	done     chan struct{}
	lossless bool
	filter   map[types.EventType]bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (s *subscriber) wants(t types.EventType) bool {
	return s.filter == nil || s.filter[t]
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	seq            atomic.Int64
	totalPublished atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- *types.Event, opts ...SubscribeOption) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	s := &subscriber{ch: ch, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Unsubscribe removes a subscriber. A Publish blocked on this subscriber
// returns promptly.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	close(s.done)
	delete(b.subscribers, id)
	return nil
}

// Publish stamps the event with the next sequence number and delivers it.
//
// Lossy subscribers with a full channel miss the event. Lossless
// subscribers are waited for, in no particular order.
func (b *Bus) Publish(e *types.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	e.Seq = b.seq.Add(1)
	b.totalPublished.Add(1)

	var waiting []*subscriber
	for _, s := range b.subscribers {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
			s.sent.Add(1)
		default:
			if s.lossless {
				waiting = append(waiting, s)
				continue
			}
			s.dropped.Add(1)
		}
	}
	b.mu.RUnlock()

	for _, s := range waiting {
		select {
		case s.ch <- e:
			s.sent.Add(1)
		case <-s.done:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Stats returns a snapshot of the counters of current subscribers.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		sent := s.sent.Load()
		dropped := s.dropped.Load()
		result.TotalSent += sent
		result.TotalDropped += dropped
		result.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped, Lossless: s.lossless}
	}
	return result
}

// Close stops the bus. Publish, Subscribe and Unsubscribe return ErrClosed
// afterwards; Stats keeps reporting the final counters. Pending lossless
// deliveries are released. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.done)
	}
	return nil
}
