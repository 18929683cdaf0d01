package engine

import (
	"sync"
	"time"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id     SubscriberID
	fn     SubscriberFunc
	filter map[EventType]struct{} // nil matches every type
	once   bool
}

func (s subscriber) matches(t EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// EventBus provides synchronous, typed event dispatch over the closed EventType set.
// Subscribers are called in registration order on the emitting goroutine, with
// no lock held, so a subscriber may emit or subscribe again.
type EventBus struct {
	mu          sync.Mutex
	subscribers []subscriber
	nextID      SubscriberID
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a persistent callback for one event type.
func (eb *EventBus) Subscribe(t EventType, fn SubscriberFunc) (SubscriberID, error) {
	return eb.add(fn, false, t)
}

// SubscribeOnce registers a callback that is removed before its first invocation.
func (eb *EventBus) SubscribeOnce(t EventType, fn SubscriberFunc) (SubscriberID, error) {
	return eb.add(fn, true, t)
}

// SubscribeTypes registers a callback only for the given event types.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) (SubscriberID, error) {
	return eb.add(fn, false, types...)
}

// SubscribeAll registers a callback for every event type.
func (eb *EventBus) SubscribeAll(fn SubscriberFunc) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subscribers = append(eb.subscribers, subscriber{id: id, fn: fn})
	return id
}

func (eb *EventBus) add(fn SubscriberFunc, once bool, types ...EventType) (SubscriberID, error) {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		if !t.Valid() {
			return 0, &UnknownEventError{Type: t}
		}
		filter[t] = struct{}{}
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subscribers = append(eb.subscribers, subscriber{id: id, fn: fn, filter: filter, once: once})
	return id, nil
}

// Unsubscribe removes a subscriber by ID. Unknown IDs are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered subscribers.
func (eb *EventBus) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.subscribers)
}

// Emit dispatches an event synchronously to all matching subscribers.
// One-shot subscribers that match are removed before any callback runs.
// A persistent subscriber unsubscribed by an earlier callback of the same
// Emit is skipped.
func (eb *EventBus) Emit(evt Event) error {
	if !evt.Type.Valid() {
		return &UnknownEventError{Type: evt.Type}
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	eb.mu.Lock()
	var matched []subscriber
	kept := eb.subscribers[:0:0]
	for _, s := range eb.subscribers {
		ok := s.matches(evt.Type)
		if ok {
			matched = append(matched, s)
		}
		if !(ok && s.once) {
			kept = append(kept, s)
		}
	}
	eb.subscribers = kept
	eb.mu.Unlock()

	for _, s := range matched {
		if !s.once && !eb.registered(s.id) {
			continue
		}
		s.fn(evt)
	}
	return nil
}

func (eb *EventBus) registered(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, s := range eb.subscribers {
		if s.id == id {
			return true
		}
	}
	return false
}
