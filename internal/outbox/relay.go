// Package outbox publishes events stored alongside state changes. A message
// leaves the outbox only after the bus accepted it, so events survive bus
// outages and process restarts.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
	"parkhub/internal/models"
)

// Store is the persistent side of the outbox.
type Store interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextAttempt time.Time, lastErr string, dead bool) error
	CountPending(ctx context.Context) (int, error)
}

// Config tunes the relay.
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxAttempts      int
	PublishPerSecond float64
	Backoff          events.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.PublishPerSecond <= 0 {
		c.PublishPerSecond = 200
	}
	if len(c.Backoff.RetryDelays) == 0 {
		c.Backoff = events.DefaultRetryPolicy()
	}
	return c
}

// Relay moves due outbox messages onto the bus.
type Relay struct {
	store     Store
	publisher events.Publisher
	cfg       Config
	breaker   *gobreaker.CircuitBreaker[any]
	limiter   *rate.Limiter
	wake      chan struct{}
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewRelay builds a relay. The circuit breaker opens after five consecutive
// publish failures and probes the bus again after ten seconds.
func NewRelay(store Store, publisher events.Publisher, cfg Config, logger *zerolog.Logger) *Relay {
	cfg = cfg.withDefaults()
	l := logger.With().Str("component", "outbox").Logger()
	r := &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.PublishPerSecond), cfg.BatchSize),
		wake:      make(chan struct{}, 1),
		logger:    &l,
		now:       time.Now,
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "outbox-publish",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// only bus failures count against the breaker
			return err == nil || !errors.Is(err, models.ErrTransport)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	return r
}

// Notify asks the relay to flush without waiting for the next poll.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run flushes the outbox until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox flush failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Flush publishes every due message once and returns how many were sent.
// Messages of a booking are published in order: after a failure the rest of
// that booking's messages wait for the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.FetchDue(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	blocked := make(map[int64]bool)
	for _, msg := range msgs {
		if blocked[msg.BookingID] {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return sent, err
		}

		err := r.publish(ctx, msg)
		switch {
		case err == nil:
			if err := r.store.MarkSent(ctx, msg.ID); err != nil {
				return sent, err
			}
			sent++
			metrics.IncEventPublished(msg.Topic, "ok")
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.IncEventPublished(msg.Topic, "breaker_open")
			r.updatePending(ctx)
			return sent, nil
		default:
			blocked[msg.BookingID] = true
			if err := r.fail(ctx, msg, err); err != nil {
				return sent, err
			}
		}
	}

	r.updatePending(ctx)
	return sent, nil
}

func (r *Relay) publish(ctx context.Context, msg models.OutboxMessage) error {
	env, err := events.Decode(msg.Topic, msg.Payload)
	if err != nil {
		return err
	}
	_, err = r.breaker.Execute(func() (any, error) {
		return nil, r.publisher.Publish(ctx, env)
	})
	return err
}

func (r *Relay) fail(ctx context.Context, msg models.OutboxMessage, cause error) error {
	attempts := msg.Attempts + 1
	dead := attempts >= r.cfg.MaxAttempts || !events.IsRetryable(cause)
	next := r.now().Add(r.cfg.Backoff.Delay(msg.Attempts))

	event := r.logger.Warn()
	result := "retry"
	if dead {
		event = r.logger.Error()
		result = "dead"
	}
	event.Err(cause).
		Str("event_id", msg.EventID).
		Str("topic", msg.Topic).
		Int64("booking_id", msg.BookingID).
		Int("attempts", attempts).
		Str("error_kind", models.Kind(cause)).
		Msg("Outbox publish failed")
	metrics.IncEventPublished(msg.Topic, result)

	return r.store.MarkFailed(ctx, msg.ID, next, cause.Error(), dead)
}

func (r *Relay) updatePending(ctx context.Context) {
	n, err := r.store.CountPending(ctx)
	if err != nil {
		return
	}
	metrics.SetOutboxPending(n)
}
