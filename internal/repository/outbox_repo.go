package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/models"
)

// EventFactory builds the event for a row written in the same transaction.
type EventFactory func(b *models.Booking) events.Envelope

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// OutboxRepo stores events until the relay publishes them.
type OutboxRepo struct {
	db *database.DB
}

func NewOutboxRepo(db *database.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

func insertOutbox(ctx context.Context, ex execer, env events.Envelope) error {
	payload, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.EventType, err)
	}
	now := time.Now().UTC()
	_, err = ex.ExecContext(ctx, `
		INSERT INTO outbox (event_id, topic, booking_id, payload, status, attempts, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		env.EventID, env.EventType, env.Payload.BookingID, payload, models.OutboxPending, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", env.EventType, err)
	}
	return nil
}

// Enqueue stores a standalone event.
func (r *OutboxRepo) Enqueue(ctx context.Context, env events.Envelope) error {
	return insertOutbox(ctx, r.db, env)
}

// FetchDue returns pending messages whose next attempt time has passed, oldest first.
func (r *OutboxRepo) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, topic, booking_id, payload, status, attempts, COALESCE(last_error, ''), next_attempt_at, created_at
		FROM outbox
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?`,
		models.OutboxPending, now.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.EventID, &m.Topic, &m.BookingID, &m.Payload, &m.Status,
			&m.Attempts, &m.LastError, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkSent records a successful publish.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, sent_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE id = ?`,
		models.OutboxSent, time.Now().UTC(), id,
	)
	return err
}

// MarkFailed records a failed publish and schedules the next attempt,
// or parks the message as dead.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, nextAttempt time.Time, lastErr string, dead bool) error {
	status := models.OutboxPending
	if dead {
		status = models.OutboxDead
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ?`,
		status, lastErr, nextAttempt.UTC(), id,
	)
	return err
}

// CountPending returns the backlog size.
func (r *OutboxRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status = ?`, models.OutboxPending).Scan(&n)
	return n, err
}
