package event

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/tasktree/internal/logging"
)

// Wildcard is the pseudo event type matched by SubscribeAll.
const Wildcard = "*"

// Handler is a function that handles an event.
type Handler func(Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub event bus.
// Engine hooks, registry boundaries and config reloads all travel through it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription // eventType -> subscriptions
	nextID atomic.Uint64
	logger *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]subscription),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for one event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	id := "sub-" + strconv.FormatUint(b.nextID.Add(1), 10)

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// SubscribeTypes registers the same handler for several event types and
// returns one subscription ID per type.
func (b *Bus) SubscribeTypes(handler Handler, eventTypes ...string) []string {
	ids := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		ids = append(ids, b.Subscribe(et, handler))
	}
	return ids
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			remaining := make([]subscription, 0, len(subs)-1)
			remaining = append(remaining, subs[:i]...)
			remaining = append(remaining, subs[i+1:]...)
			if len(remaining) == 0 {
				delete(b.subs, eventType)
			} else {
				b.subs[eventType] = remaining
			}
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers on the calling
// goroutine. Handlers for the exact type run first, then wildcard handlers,
// each group in registration order. A panicking handler is logged and
// skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	specific := b.subs[e.EventType()]
	wildcard := b.subs[Wildcard]
	b.mu.RUnlock()

	// Slices are replaced, never mutated in place, so reading them unlocked is safe.
	for _, sub := range specific {
		b.dispatch(sub.handler, e)
	}
	for _, sub := range wildcard {
		b.dispatch(sub.handler, e)
	}
}

func (b *Bus) dispatch(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	return count
}
