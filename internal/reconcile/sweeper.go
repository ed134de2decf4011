// Package reconcile repairs bookings whose events were lost on the way.
// Redis pub/sub drops messages while a subscriber is down, so a booking can
// stay pending forever or a cancelled spot can stay reserved. The sweeper
// re-enqueues the original request; the inventory answers a replay with the
// reservation's current state, which repairs a lost reply as well.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
	"parkhub/internal/models"
	"parkhub/internal/service"
)

// BookingStore is the subset of the booking repository the sweeper needs.
type BookingStore interface {
	StalePending(ctx context.Context, before time.Time, limit int) ([]models.Booking, error)
	UnreleasedCancellations(ctx context.Context, before time.Time, limit int) ([]models.Booking, error)
	Requeue(ctx context.Context, id int64, env events.Envelope) error
}

// Notifier is woken after events were re-enqueued.
type Notifier interface {
	Notify()
}

// Config controls the sweep.
type Config struct {
	Interval     time.Duration
	PendingAfter time.Duration
	GiveUpAfter  time.Duration
	BatchSize    int
}

// Result summarizes one sweep.
type Result struct {
	CreatedRequeued   int
	CancelledRequeued int
	Abandoned         int
}

// Sweeper periodically re-emits events for stuck bookings.
type Sweeper struct {
	store    BookingStore
	notifier Notifier
	cfg      Config
	logger   *zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSweeper(store BookingStore, notifier Notifier, cfg Config, logger *zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = 2 * time.Minute
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	l := logger.With().Str("component", "reconcile").Logger()
	return &Sweeper{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   &l,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("reconciliation started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.CheckNow(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reconciliation sweep failed")
			}
		}
	}
}

// Stop ends the loop started by Start. A stopped sweeper cannot be restarted.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// CheckNow runs a single sweep.
func (s *Sweeper) CheckNow(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()
	cutoff := now.Add(-s.cfg.PendingAfter)
	giveUp := now.Add(-s.cfg.GiveUpAfter)

	pending, err := s.store.StalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for i := range pending {
		b := &pending[i]
		if b.CreatedAt.Before(giveUp) {
			res.Abandoned++
			s.logger.Warn().
				Int64("booking_id", b.ID).
				Time("created_at", b.CreatedAt).
				Msg("booking still pending, no longer re-emitting")
			continue
		}
		if err := s.store.Requeue(ctx, b.ID, service.CreatedEvent(b)); err != nil {
			return res, err
		}
		res.CreatedRequeued++
		metrics.IncReconcileRequeued(events.TopicBookingCreated)
	}

	cancelled, err := s.store.UnreleasedCancellations(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	for i := range cancelled {
		b := &cancelled[i]
		if err := s.store.Requeue(ctx, b.ID, service.CancelledEvent(b)); err != nil {
			return res, err
		}
		res.CancelledRequeued++
		metrics.IncReconcileRequeued(events.TopicBookingCancelled)
	}

	if res.CreatedRequeued+res.CancelledRequeued > 0 {
		if s.notifier != nil {
			s.notifier.Notify()
		}
		s.logger.Info().
			Int("created", res.CreatedRequeued).
			Int("cancelled", res.CancelledRequeued).
			Msg("re-emitted events for stuck bookings")
	}
	return res, nil
}
