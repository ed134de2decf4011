package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkhub/internal/metrics"
	"parkhub/internal/models"
)

// maxDispatchDelay bounds a single in-place retry. Handlers run on the receive
// loop, so a long wait there stalls every topic; slower recovery is left to
// the outbox backoff and reconciliation.
const maxDispatchDelay = time.Second

// RedisBus publishes and consumes events over Redis pub/sub channels named
// after the topics. Pub/sub does not persist messages: anything published
// while a consumer is disconnected is lost and repaired by reconciliation.
type RedisBus struct {
	client redis.UniversalClient
	retry  RetryPolicy
	logger *zerolog.Logger

	mu        sync.RWMutex
	handlers  map[string][]Handler
	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisBus wraps a go-redis client. Retry delays are capped at one second.
func NewRedisBus(client redis.UniversalClient, retry RetryPolicy, logger *zerolog.Logger) *RedisBus {
	l := logger.With().Str("component", "redis-bus").Logger()
	return &RedisBus{
		client:   client,
		retry:    retry.Capped(maxDispatchDelay),
		logger:   &l,
		handlers: make(map[string][]Handler),
		ready:    make(chan struct{}),
	}
}

// Publish sends the envelope to the channel named by its event type.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, env.EventType, data).Err(); err != nil {
		return models.Transport("redis publish", err)
	}
	return nil
}

// Subscribe registers a handler. Handlers must be registered before Run.
func (b *RedisBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Ready is closed once Run has confirmed its subscriptions.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes to every registered topic and dispatches messages until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	topics := b.topics()
	if len(topics) == 0 {
		b.readyOnce.Do(func() { close(b.ready) })
		<-ctx.Done()
		return nil
	}

	pubsub := b.client.Subscribe(ctx, topics...)
	defer pubsub.Close()

	// Wait for the subscription confirmation before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return models.Transport("redis subscribe", err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.Info().Strs("topics", topics).Msg("subscribed to event topics")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// Close releases the underlying client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func (b *RedisBus) dispatch(ctx context.Context, topic string, data []byte) {
	env, err := Decode(topic, data)
	if err != nil {
		metrics.IncEventConsumed(topic, "malformed")
		b.logger.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
		return
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		err := Retry(ctx, b.retry, func() error { return handler(ctx, env) })
		switch {
		case err == nil:
			metrics.IncEventConsumed(topic, "ok")
		case IsRetryable(err):
			metrics.IncEventConsumed(topic, "dropped")
			b.logger.Error().Err(err).
				Str("topic", topic).
				Str("event_id", env.EventID).
				Int64("booking_id", env.Payload.BookingID).
				Msg("event handler failed after retries")
		default:
			metrics.IncEventConsumed(topic, "rejected")
			b.logger.Warn().Err(err).
				Str("topic", topic).
				Int64("booking_id", env.Payload.BookingID).
				Msg("event rejected by handler")
		}
	}
}

func (b *RedisBus) topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
