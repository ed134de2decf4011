package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topics carried on the bus.
const (
	TopicBookingCreated        = "booking.created"
	TopicBookingCancelled      = "booking.cancelled"
	TopicSpotReserved          = "parking.spot.reserved"
	TopicSpotReservationFailed = "parking.spot.reservation_failed"
	TopicSpotReleased          = "parking.spot.released"
)

// SchemaVersion is the envelope version written by this build.
const SchemaVersion = 1

const producerUnknown = "unknown"

// Envelope is the canonical event shape shared by every service.
type Envelope struct {
	EventID    string         `json:"eventId"`
	EventType  string         `json:"eventType"`
	Version    int            `json:"version"`
	Producer   string         `json:"producer,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    BookingPayload `json:"payload"`
}

// BookingPayload is the body of every booking and spot event.
// Which fields are set depends on the topic.
type BookingPayload struct {
	BookingID int64     `json:"bookingId"`
	UserID    int64     `json:"userId,omitempty"`
	LotID     string    `json:"lotId"`
	SpotID    string    `json:"spotId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope stamps a payload with a fresh event id and the current schema version.
func NewEnvelope(topic, producer string, payload BookingPayload) Envelope {
	now := time.Now().UTC()
	if payload.Timestamp.IsZero() {
		payload.Timestamp = now
	}
	if producer == "" {
		producer = producerUnknown
	}
	return Envelope{
		EventID:    uuid.NewString(),
		EventType:  topic,
		Version:    SchemaVersion,
		Producer:   producer,
		OccurredAt: now,
		Payload:    payload,
	}
}

// DedupeKey identifies the logical event independently of redeliveries.
func (e Envelope) DedupeKey() string {
	return e.EventType + ":" + formatID(e.Payload.BookingID)
}

// Handler reacts to an event.
type Handler func(ctx context.Context, env Envelope) error

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Bus is a topic based pub/sub transport.
type Bus interface {
	Publisher
	Subscribe(topic string, handler Handler)
	Run(ctx context.Context) error
	Close() error
}
