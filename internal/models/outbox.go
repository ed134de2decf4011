package models

import "time"

// Outbox message statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxDead    = "dead"
)

// OutboxMessage is an event persisted together with the state change that
// produced it, waiting to be published.
type OutboxMessage struct {
	ID            int64
	EventID       string
	Topic         string
	BookingID     int64
	Payload       []byte
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
}
