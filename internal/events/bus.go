// Package events provides the in-process pub/sub bus. The scheduler and the
// freeze layer publish; the websocket stream and tests subscribe. Delivery is
// best-effort: a slow subscriber drops events rather than blocking a cycle.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a kind of system event.
type EventType string

const (
	CycleCompleted  EventType = "cycle_completed"
	AlertRaised     EventType = "alert_raised"
	DecisionUpdated EventType = "decision_updated"
	FreezeExecuted  EventType = "freeze_executed"
	RegimeChanged   EventType = "regime_changed"
	SnapshotBuilt   EventType = "snapshot_built"
)

// EventData is implemented by every typed event payload.
type EventData interface {
	EventType() EventType
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a subscriber with the given channel buffer and returns
// the receive channel plus an unsubscribe function. Unsubscribing closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. Events to
// full subscriber buffers are dropped and counted.
func (b *Bus) Publish(data EventData) {
	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.log.Warn().Str("type", string(event.Type)).Msg("Subscriber buffer full; event dropped")
		}
	}
}

// Dropped returns how many events were discarded due to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
