package service

import (
	"context"
	"time"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
	"parkhub/internal/models"
)

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler)
}

// Subscribe wires the coordinator's reactions to inventory events.
func (s *BookingService) Subscribe(bus Subscriber) {
	bus.Subscribe(events.TopicSpotReserved, s.HandleSpotReserved)
	bus.Subscribe(events.TopicSpotReservationFailed, s.HandleReservationFailed)
	bus.Subscribe(events.TopicSpotReleased, s.HandleSpotReleased)
}

// HandleSpotReserved confirms a pending booking. Duplicates and late
// confirmations for bookings that are no longer pending are ignored.
func (s *BookingService) HandleSpotReserved(ctx context.Context, env events.Envelope) error {
	ok, err := s.repo.ConfirmBooking(ctx, env.Payload.BookingID, env.Payload.SpotID)
	if err != nil {
		return err
	}
	s.logTransition(ok, env, models.StatusConfirmed)
	return nil
}

// HandleReservationFailed marks a pending booking as failed.
func (s *BookingService) HandleReservationFailed(ctx context.Context, env events.Envelope) error {
	reason := env.Payload.Reason
	if reason == "" {
		reason = "reservation_failed"
	}
	ok, err := s.repo.FailBooking(ctx, env.Payload.BookingID, reason)
	if err != nil {
		return err
	}
	s.logTransition(ok, env, models.StatusFailed)
	return nil
}

// HandleSpotReleased records that the inventory processed a cancellation.
func (s *BookingService) HandleSpotReleased(ctx context.Context, env events.Envelope) error {
	at := env.Payload.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	ok, err := s.repo.MarkReleased(ctx, env.Payload.BookingID, at)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Debug().Int64("booking_id", env.Payload.BookingID).Msg("Spot release acknowledged")
	}
	return nil
}

func (s *BookingService) logTransition(ok bool, env events.Envelope, status string) {
	if !ok {
		s.logger.Debug().
			Int64("booking_id", env.Payload.BookingID).
			Str("topic", env.EventType).
			Msg("Event ignored: booking not pending")
		return
	}
	metrics.IncBookingTransition(status)
	s.logger.Info().
		Int64("booking_id", env.Payload.BookingID).
		Str("spot_id", env.Payload.SpotID).
		Str("status", status).
		Msg("Booking status updated")
}
