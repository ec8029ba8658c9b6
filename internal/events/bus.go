package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"refsession/pkg/logging"
)

// Handler receives published events.
type Handler func(Event)

// Bus is a process-wide publish/subscribe channel for session events.
//
// Delivery is synchronous and in subscription order. A handler that panics
// is recovered and logged; handlers after it still run. Nothing is buffered:
// a subscriber only sees events published after it subscribed.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription
	now      func() time.Time
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers handler and returns a function removing it. The
// returned function may be called more than once.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.handlers {
		if sub.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every current subscriber before returning. Missing
// ID and Time are filled in.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	logging.Debug("SessionEvents", "Publishing %s (id=%s) to %d subscribers", e, logging.TruncateID(e.ID), len(handlers))

	for _, sub := range handlers {
		b.deliver(sub.handler, e)
	}
}

func (b *Bus) deliver(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("SessionEvents", "Subscriber panicked handling %s: %v", e.Kind, r)
		}
	}()
	handler(e)
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
