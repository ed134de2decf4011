package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/models"
)

const bookingColumns = `id, user_id, lot_id, COALESCE(spot_id, ''), COALESCE(requested_spot_id, ''), status,
	COALESCE(failure_reason, ''), released_at, created_at, updated_at, version`

// BookingRepo is the booking store. Every status change is a conditional
// write keyed on the current status, so terminal bookings never move.
type BookingRepo struct {
	db *database.DB
}

func NewBookingRepo(db *database.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b          models.Booking
		releasedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &b.LotID, &b.SpotID, &b.RequestedSpotID, &b.Status,
		&b.FailureReason, &releasedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		b.ReleasedAt = &t
	}
	return &b, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateBooking inserts a pending booking and its creation event atomically.
// A second active booking for the same requested spot fails with ErrSpotTaken.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *models.Booking, event EventFactory) error {
	now := time.Now().UTC()
	b.Status = models.StatusPending
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Version = 1

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (user_id, lot_id, spot_id, requested_spot_id, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.UserID, b.LotID, nullString(b.SpotID), nullString(b.RequestedSpotID), b.Status, b.Version, now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrSpotTaken
			}
			return fmt.Errorf("insert booking: %w", err)
		}
		if b.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, event(b))
	})
}

// GetBooking returns a booking by id.
func (r *BookingRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	return b, err
}

// ListBookingsByUser returns the user's bookings, newest first.
func (r *BookingRepo) ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	return r.ListBookings(ctx, models.BookingFilter{UserID: userID})
}

// ListBookings returns bookings matching the filter, newest first.
func (r *BookingRepo) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.LotID != "" {
		where = append(where, "lot_id = ?")
		args = append(args, f.LotID)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return r.queryBookings(ctx, query, args...)
}

func (r *BookingRepo) queryBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// CancelBooking moves an active booking to cancelled and stores the
// cancellation event in the same transaction. Cancelling a terminal booking
// fails with ErrBookingTerminal and writes nothing.
func (r *BookingRepo) CancelBooking(ctx context.Context, id int64, event EventFactory) (*models.Booking, error) {
	var cancelled *models.Booking
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrBookingNotFound
		}
		if err != nil {
			return err
		}
		if !b.CanTransition(models.StatusCancelled) {
			return models.ErrBookingTerminal
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE bookings SET status = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND status IN (?, ?)`,
			models.StatusCancelled, now, id, models.StatusPending, models.StatusConfirmed,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrBookingTerminal
		}

		b.Status = models.StatusCancelled
		b.UpdatedAt = now
		b.Version++
		cancelled = b
		return insertOutbox(ctx, tx, event(b))
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ConfirmBooking moves a pending booking to confirmed and records the
// assigned spot. It reports false when the booking was not pending.
func (r *BookingRepo) ConfirmBooking(ctx context.Context, id int64, spotID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, spot_id = COALESCE(?, spot_id), updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?`,
		models.StatusConfirmed, nullString(spotID), time.Now().UTC(), id, models.StatusPending,
	)
	return affected(res, err)
}

// FailBooking moves a pending booking to failed with the given reason.
func (r *BookingRepo) FailBooking(ctx context.Context, id int64, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, failure_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ?`,
		models.StatusFailed, reason, time.Now().UTC(), id, models.StatusPending,
	)
	return affected(res, err)
}

// MarkReleased records that the inventory released the booking's spot.
func (r *BookingRepo) MarkReleased(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET released_at = ? WHERE id = ? AND released_at IS NULL`,
		at.UTC(), id,
	)
	return affected(res, err)
}

// StalePending returns pending bookings not touched since before.
func (r *BookingRepo) StalePending(ctx context.Context, before time.Time, limit int) ([]models.Booking, error) {
	return r.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND updated_at < ? ORDER BY id LIMIT ?`,
		models.StatusPending, before.UTC(), limit)
}

// UnreleasedCancellations returns cancelled bookings whose release was never
// acknowledged by the inventory.
func (r *BookingRepo) UnreleasedCancellations(ctx context.Context, before time.Time, limit int) ([]models.Booking, error) {
	return r.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND released_at IS NULL AND updated_at < ? ORDER BY id LIMIT ?`,
		models.StatusCancelled, before.UTC(), limit)
}

// Requeue stores env for another publish and touches the booking so the next
// sweep waits a full interval before trying again.
func (r *BookingRepo) Requeue(ctx context.Context, id int64, env events.Envelope) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE bookings SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, env)
	})
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
