package events

import (
	"context"
	"time"

	"parkhub/internal/models"
)

// RetryPolicy holds configuration for retry logic.
type RetryPolicy struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Delay returns the wait before retry number attempt (zero based).
// Attempts past the schedule reuse its last entry.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.RetryDelays) == 0 {
		return time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.RetryDelays) {
		return p.RetryDelays[len(p.RetryDelays)-1]
	}
	return p.RetryDelays[attempt]
}

// Capped returns a copy of the policy whose delays never exceed limit.
func (p RetryPolicy) Capped(limit time.Duration) RetryPolicy {
	delays := make([]time.Duration, len(p.RetryDelays))
	for i, d := range p.RetryDelays {
		delays[i] = min(d, limit)
	}
	if len(delays) == 0 {
		delays = []time.Duration{min(time.Second, limit)}
	}
	return RetryPolicy{MaxRetries: p.MaxRetries, RetryDelays: delays}
}

// IsRetryable reports whether err may succeed on a later attempt.
// Validation, not-found, conflict and authorization errors are final.
func IsRetryable(err error) bool {
	switch models.Kind(err) {
	case models.KindTransport, models.KindInternal:
		return true
	default:
		return false
	}
}

// Retry calls fn until it succeeds, returns a final error, or the policy
// is exhausted.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= policy.MaxRetries {
			return err
		}

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
