package authbridge

import (
	"sync"
	"time"
)

// EventType discriminates credential events.
type EventType string

const (
	// EventTokenUpdated fires when a credential was written to the store.
	EventTokenUpdated EventType = "token_updated"
	// EventSignedOut fires when an authenticated credential was discarded.
	EventSignedOut EventType = "signed_out"
	// EventGuestIssued fires when a fresh guest token was persisted.
	EventGuestIssued EventType = "guest_issued"
)

// Event is one credential change. Subscribers use it to keep other tabs,
// workers, or UI surfaces in step without coupling to a transport.
type Event struct {
	Type    EventType
	IsGuest bool
	At      time.Time
}

// subscriberBuffer bounds each subscriber channel. Publish never blocks;
// a subscriber that falls this far behind starts losing events.
const subscriberBuffer = 8

// Broadcaster fans credential events out to subscribers.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The cancel func unregisters it and
// closes the channel; call it exactly once.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Events
// to full subscriber channels are dropped.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
