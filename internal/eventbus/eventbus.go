// Package eventbus is the single internal message fabric (C21). Every
// subscriber receives the events delivered to it in publish order on its
// own channel; a subscriber whose buffer is full misses events rather
// than slowing the others (see Publish).
package eventbus

import (
	"sync"
)

// Kind names an event type. Kept as a string, not an enum, so new event
// kinds never require a central registry edit.
type Kind string

const (
	SignalIngested  Kind = "SignalIngested"
	SignalMerged    Kind = "SignalMerged"
	SignalBlocked   Kind = "SignalBlocked"
	IntentCreated   Kind = "IntentCreated"
	OrderPlaced     Kind = "OrderPlaced"
	OrderFailed     Kind = "OrderFailed"
	PositionOpened  Kind = "PositionOpened"
	TPHit           Kind = "TPHit"
	SLMoved         Kind = "SLMoved"
	PositionClosed  Kind = "PositionClosed"
	MarginAlert     Kind = "MarginAlert"
	SpreadBlocked   Kind = "SpreadBlocked"
	Overflow        Kind = "Overflow"
)

// Event is one published message. Data carries kind-specific fields; it
// is deliberately untyped here the same way the teacher's notification
// payloads were untyped, but every publisher in this tree uses a
// concrete struct type as Data so receivers can type-assert safely.
type Event struct {
	Kind Kind
	Data interface{}
}

type subscriber struct {
	ch     chan Event
	filter map[Kind]bool // nil means "all kinds"
}

// Bus is the in-process pub/sub fabric. Zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns a receive-only channel
// of events. When kinds is non-empty, only those kinds are delivered;
// an empty kinds list subscribes to everything. The channel holds up to
// 256 events; while it is full, further events for this subscriber are
// dropped. Calling the returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	filter := map[Kind]bool{}
	for _, k := range kinds {
		filter[k] = true
	}
	if len(filter) == 0 {
		filter = nil
	}
	sub := &subscriber{ch: make(chan Event, 256), filter: filter}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish delivers ev to every matching subscriber. Delivery to each
// subscriber is non-blocking: if a subscriber's buffer is full the event
// is dropped for that subscriber only, and the bus keeps going rather
// than stalling every other publisher (a slow UI client must never back
// up order placement).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter[ev.Kind] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}
