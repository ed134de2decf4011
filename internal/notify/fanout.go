package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
)

// Notification types sent to clients.
const (
	TypeBookingCreated    = "booking.created"
	TypeBookingCancelled  = "booking.cancelled"
	TypeSpotReserved      = "spot.reserved"
	TypeReservationFailed = "spot.reservation_failed"
)

// Broadcaster delivers a message to every connected client.
type Broadcaster interface {
	Broadcast(msg Message)
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(topic string, handler events.Handler)
}

// Fanout turns domain events into client notifications.
type Fanout struct {
	out    Broadcaster
	dedupe Deduper
	logger *zerolog.Logger
}

// NewFanout builds a fanout. dedupe may be nil.
func NewFanout(out Broadcaster, dedupe Deduper, logger *zerolog.Logger) *Fanout {
	return &Fanout{out: out, dedupe: dedupe, logger: logger}
}

// Subscribe wires the fanout to the events it reports.
func (f *Fanout) Subscribe(bus Subscriber) {
	bus.Subscribe(events.TopicBookingCreated, f.Handle)
	bus.Subscribe(events.TopicBookingCancelled, f.Handle)
	bus.Subscribe(events.TopicSpotReserved, f.Handle)
	bus.Subscribe(events.TopicSpotReservationFailed, f.Handle)
}

// Handle broadcasts the notification for env unless it was already sent.
// Notifications are best effort: errors are logged, never returned.
func (f *Fanout) Handle(ctx context.Context, env events.Envelope) error {
	msg, ok := Format(env)
	if !ok {
		return nil
	}

	if f.dedupe != nil {
		first, err := f.dedupe.FirstSeen(ctx, env.DedupeKey())
		switch {
		case err != nil:
			// a duplicate is better than a lost notification
			f.logger.Warn().Err(err).Str("key", env.DedupeKey()).Msg("dedupe check failed")
		case !first:
			metrics.IncNotificationSent("duplicate")
			return nil
		}
	}

	f.out.Broadcast(msg)
	metrics.IncNotificationSent(msg.Type)
	f.logger.Debug().Str("type", msg.Type).Int64("booking_id", env.Payload.BookingID).Msg("notification sent")
	return nil
}

// Format renders the client message for env. Pending bookings are announced
// as received, never as confirmed.
func Format(env events.Envelope) (Message, bool) {
	p := env.Payload
	var msg Message
	switch env.EventType {
	case events.TopicBookingCreated:
		msg = Message{
			Type:    TypeBookingCreated,
			Message: fmt.Sprintf("Booking %d received, waiting for a spot in lot %s.", p.BookingID, p.LotID),
		}
	case events.TopicBookingCancelled:
		msg = Message{
			Type:    TypeBookingCancelled,
			Message: fmt.Sprintf("Booking %d cancelled.", p.BookingID),
		}
	case events.TopicSpotReserved:
		msg = Message{
			Type:    TypeSpotReserved,
			Message: fmt.Sprintf("Spot %s reserved in lot %s for booking %d.", p.SpotID, p.LotID, p.BookingID),
		}
	case events.TopicSpotReservationFailed:
		msg = Message{
			Type:    TypeReservationFailed,
			Message: fmt.Sprintf("Booking %d could not be reserved: %s.", p.BookingID, p.Reason),
		}
	default:
		return Message{}, false
	}
	msg.Data = p
	return msg, true
}
