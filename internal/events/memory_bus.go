package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus provides in-process pub/sub for events. Every published
// envelope goes through Encode/Decode so subscribers observe exactly what
// they would receive over Redis.
type MemoryBus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish delivers the event to every subscriber of its topic before returning.
// Handler errors are joined and returned so the caller can redeliver.
func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	decoded, err := Decode(env.EventType, data)
	if err != nil {
		return err
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[env.EventType]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(ctx, decoded); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run blocks until ctx is done; delivery happens inline in Publish.
func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close is a no-op.
func (b *MemoryBus) Close() error { return nil }
