// Package pubsub is the fan-out boundary between the settlement core and
// its external subscribers. Publication never blocks: a slow subscriber
// drops events rather than stalling a transition.
package pubsub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/handoff-hub/handoff-hub/internal/domain/event"
)

const defaultBuffer = 256

// Subscription is one registered consumer.
type Subscription struct {
	ID string
	// Types restricts delivery; empty means all events.
	Types []event.Type
	C     chan event.Event
}

func (s *Subscription) wants(t event.Type) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, want := range s.Types {
		if want == t {
			return true
		}
	}
	return false
}

// Bus implements event.Publisher with per-subscriber buffered channels.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a consumer for the given event types (all if empty).
func (b *Bus) Subscribe(id string, types ...event.Type) *Subscription {
	sub := &Subscription{
		ID:    id,
		Types: types,
		C:     make(chan event.Event, defaultBuffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old.C)
	}
	b.subs[id] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.C)
		delete(b.subs, id)
	}
}

// Publish delivers the event to every interested subscriber without
// blocking. Overflowing subscribers lose the event; that is logged and the
// authoritative transition is unaffected.
func (b *Bus) Publish(e event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.C <- e:
		default:
			b.logger.Warn().
				Str("subscriber", sub.ID).
				Str("event_type", string(e.Type)).
				Str("transaction_id", e.TransactionID.String()).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
