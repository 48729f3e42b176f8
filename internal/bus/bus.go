// Package bus implements the EventBus: a synchronous publish/subscribe
// hub keyed by EventType. Grounded on original_source's core/bus.py; the
// per-type handler-list idiom is unchanged, adapted to a typed Go
// function value and a mutex in place of Python's single-threaded
// assumption, since ingress here is genuinely multi-threaded (spec.md
// §5).
package bus

import (
	"sync"

	"sublimine-ids/pkg/types"
)

// Handler receives a published payload. Handlers run synchronously on
// the publisher's goroutine, in subscription order.
type Handler func(payload any)

// Bus is a synchronous, type-keyed publish/subscribe hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[types.EventType][]Handler
}

// New creates an empty EventBus.
func New() *Bus {
	return &Bus{subscribers: make(map[types.EventType][]Handler)}
}

// Subscribe registers handler to run on every future Publish of eventType.
func (b *Bus) Subscribe(eventType types.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish fans payload out to every handler subscribed to eventType, in
// registration order. A handler added during Publish does not run for
// this call.
func (b *Bus) Publish(eventType types.EventType, payload any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
}
