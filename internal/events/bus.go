// Package events carries session progress from the orchestrator to
// observers such as the MQTT bridge. The bus is nil-safe: Publish on a
// nil *Bus is a no-op, so components need no guard checks.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sources identify the publishing role.
const (
	SourceSession    = "session"
	SourceProfiler   = "profiler"
	SourceRetriever  = "retriever"
	SourceSummarizer = "summarizer"
)

// Kinds describe what happened.
const (
	// KindSessionStart: session_id, user, model, targets, total.
	KindSessionStart = "session_start"
	// KindThink: session_id, cycle, action.
	KindThink = "think"
	// KindToolDone: session_id, tool, status, duration_ms.
	KindToolDone = "tool_done"
	// KindRetrieved: session_id, status, iterations, visited, total.
	KindRetrieved = "retrieved"
	// KindReasoned: session_id, inferences, durable, rejected.
	KindReasoned = "reasoned"
	// KindChecked: session_id, working.
	KindChecked = "checked"
	// KindFinishDeferred: session_id, visited, total.
	KindFinishDeferred = "finish_deferred"
	// KindSessionComplete: session_id, attributes, partial, cycles, elapsed_ms.
	KindSessionComplete = "session_complete"
	// KindSessionFailed: session_id, error.
	KindSessionFailed = "session_failed"
)

// Event is a single progress notification.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is one subscriber's view of a Bus.
type Subscription struct {
	// C delivers events in publish order. It is closed by Close.
	C <-chan Event

	ch      chan Event
	bus     *Bus
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription and closes C. It is idempotent.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Bus is a non-blocking broadcast bus. A subscriber whose buffer is
// full misses events rather than blocking the publisher; the miss is
// counted on its Subscription.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber buffering up to bufSize events.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	s := &Subscription{C: ch, ch: ch, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[s] = struct{}{}
	return s
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
