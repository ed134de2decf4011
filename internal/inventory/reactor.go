package inventory

import (
	"context"

	"github.com/rs/zerolog"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
	"parkhub/internal/models"
	"parkhub/internal/repository"
)

// Producer is the name stamped on events emitted by the inventory.
const Producer = "parking-service"

// SpotRepository is the reservation side of the spot store.
type SpotRepository interface {
	Reserve(ctx context.Context, req repository.ReserveRequest, event repository.ReservationEventFactory) (*models.Reservation, bool, error)
	Release(ctx context.Context, bookingID int64, lotID string, event repository.ReservationEventFactory) (*models.Reservation, bool, error)
}

// Notifier is woken after a write that left an event in the outbox.
type Notifier interface {
	Notify()
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler)
}

// Reactor reserves and releases spots in response to booking events.
type Reactor struct {
	spots    SpotRepository
	notifier Notifier
	logger   *zerolog.Logger
}

// NewReactor builds a reactor. notifier may be nil.
func NewReactor(spots SpotRepository, notifier Notifier, logger *zerolog.Logger) *Reactor {
	return &Reactor{spots: spots, notifier: notifier, logger: logger}
}

// Subscribe wires the reactor to booking events.
func (r *Reactor) Subscribe(bus Subscriber) {
	bus.Subscribe(events.TopicBookingCreated, r.HandleBookingCreated)
	bus.Subscribe(events.TopicBookingCancelled, r.HandleBookingCancelled)
}

// HandleBookingCreated reserves the requested spot, or the lowest-numbered
// available one when the booking names none. Replays and creations that
// arrive after their cancellation change nothing but re-announce the
// reservation's current state.
func (r *Reactor) HandleBookingCreated(ctx context.Context, env events.Envelope) error {
	p := env.Payload
	res, applied, err := r.spots.Reserve(ctx, repository.ReserveRequest{
		BookingID:  p.BookingID,
		LotID:      p.LotID,
		SpotNumber: p.SpotID,
	}, ReservationEvent)
	if err != nil {
		metrics.IncReservation("error")
		return err
	}
	r.wake()
	if !applied {
		metrics.IncReservation("duplicate")
		r.logger.Debug().
			Int64("booking_id", p.BookingID).
			Str("state", res.State).
			Msg("booking.created replayed: current reservation re-announced")
		return nil
	}
	metrics.IncReservation(res.State)
	if res.State == models.ReservationFailed {
		r.logger.Warn().
			Int64("booking_id", p.BookingID).
			Str("lot_id", p.LotID).
			Str("spot_id", p.SpotID).
			Str("reason", res.Reason).
			Msg("Reservation failed")
		return nil
	}
	r.logger.Info().
		Int64("booking_id", p.BookingID).
		Str("lot_id", res.LotID).
		Str("spot_id", res.SpotNumber).
		Msg("Spot reserved")
	return nil
}

// HandleBookingCancelled returns the booking's spot to the pool. A
// cancellation for a booking the inventory has not seen leaves a tombstone.
func (r *Reactor) HandleBookingCancelled(ctx context.Context, env events.Envelope) error {
	p := env.Payload
	res, applied, err := r.spots.Release(ctx, p.BookingID, p.LotID, ReservationEvent)
	if err != nil {
		metrics.IncReservation("error")
		return err
	}
	r.wake()
	if !applied {
		metrics.IncReservation("duplicate")
		r.logger.Debug().Int64("booking_id", p.BookingID).Msg("booking.cancelled replayed: release re-announced")
		return nil
	}
	metrics.IncReservation(models.ReservationReleased)
	r.logger.Info().
		Int64("booking_id", p.BookingID).
		Str("lot_id", res.LotID).
		Str("spot_id", res.SpotNumber).
		Msg("Spot released")
	return nil
}

func (r *Reactor) wake() {
	if r.notifier != nil {
		r.notifier.Notify()
	}
}

// ReservationEvent builds the event announcing a reservation's new state.
func ReservationEvent(res *models.Reservation) events.Envelope {
	topic := events.TopicSpotReserved
	switch res.State {
	case models.ReservationFailed:
		topic = events.TopicSpotReservationFailed
	case models.ReservationReleased:
		topic = events.TopicSpotReleased
	}
	return events.NewEnvelope(topic, Producer, events.BookingPayload{
		BookingID: res.BookingID,
		LotID:     res.LotID,
		SpotID:    res.SpotNumber,
		Status:    res.State,
		Reason:    res.Reason,
		Timestamp: res.UpdatedAt,
	})
}
