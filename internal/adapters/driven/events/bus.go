package events

import (
	"context"
	"strings"
	"sync"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// Ensure Bus implements the interface.
var _ driven.EventPublisher = (*Bus)(nil)

// Handler consumes a published event.
type Handler func(domain.Event)

// Bus is a synchronous in-process publisher. Handlers run on the
// publishing goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	typed  map[domain.EventType][]subscription
	all    []subscription
}

type subscription struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{typed: make(map[domain.EventType][]subscription)}
}

// Subscribe registers handler for one event type. The returned func
// removes the subscription.
func (b *Bus) Subscribe(eventType domain.EventType, handler Handler) func() {
	eventType = domain.EventType(strings.TrimSpace(string(eventType)))
	if eventType == "" || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.typed[eventType] = append(b.typed[eventType], sub)
	return func() { b.remove(eventType, sub.id) }
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.all = append(b.all, sub)
	return func() { b.remove("", sub.id) }
}

// Publish delivers event to matching handlers. A panicking handler is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.typed[event.Type])+len(b.all))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, sub := range targets {
		deliver(sub.handler, event)
	}
	return nil
}

func deliver(handler Handler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler for %s panicked: %v", event.Type, r)
		}
	}()
	handler(event)
}

func (b *Bus) remove(eventType domain.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	drop := func(subs []subscription) []subscription {
		out := subs[:0]
		for _, sub := range subs {
			if sub.id != id {
				out = append(out, sub)
			}
		}
		return out
	}
	if eventType == "" {
		b.all = drop(b.all)
		return
	}
	b.typed[eventType] = drop(b.typed[eventType])
}

// Fanout publishes to every publisher in order and returns the first
// error after trying them all.
type Fanout []driven.EventPublisher

// Publish implements driven.EventPublisher.
func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var first error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
