package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"parkhub/internal/database"
	"parkhub/internal/events"
	"parkhub/internal/models"
)

// ReservationEventFactory builds the event for a reservation state change.
type ReservationEventFactory func(r *models.Reservation) events.Envelope

// ReserveRequest asks for a spot on behalf of a booking. An empty
// SpotNumber lets the inventory pick the lowest-numbered available spot.
type ReserveRequest struct {
	BookingID  int64
	LotID      string
	SpotNumber string
}

// SpotRepo is the parking inventory. Spots only change hands through
// compare-and-set updates conditioned on their current status.
type SpotRepo struct {
	db *database.DB
}

func NewSpotRepo(db *database.DB) *SpotRepo {
	return &SpotRepo{db: db}
}

// ListLots returns per-lot totals ordered by lot id.
func (r *SpotRepo) ListLots(ctx context.Context) ([]models.LotSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT lot_id,
			COUNT(*),
			SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'reserved' THEN 1 ELSE 0 END)
		FROM spots
		GROUP BY lot_id
		ORDER BY lot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := []models.LotSummary{}
	for rows.Next() {
		var l models.LotSummary
		if err := rows.Scan(&l.ID, &l.TotalSpots, &l.AvailableSpots, &l.ReservedSpots); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// GetLot returns the lot with its spots in natural order.
func (r *SpotRepo) GetLot(ctx context.Context, lotID string) (*models.Lot, error) {
	spots, err := querySpots(ctx, r.db, `
		SELECT id, lot_id, spot_number, status, booking_id, updated_at
		FROM spots WHERE lot_id = ?`, lotID)
	if err != nil {
		return nil, err
	}
	if len(spots) == 0 {
		return nil, models.ErrLotNotFound
	}
	return &models.Lot{ID: lotID, Spots: spots}, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySpots(ctx context.Context, q queryer, query string, args ...any) ([]models.Spot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spots []models.Spot
	for rows.Next() {
		var (
			s         models.Spot
			bookingID sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.LotID, &s.SpotNumber, &s.Status, &bookingID, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if bookingID.Valid {
			id := bookingID.Int64
			s.BookingID = &id
		}
		spots = append(spots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(spots, func(i, j int) bool { return models.SpotNumberLess(spots[i].SpotNumber, spots[j].SpotNumber) })
	return spots, nil
}

// CreateLot provisions a new lot. It fails with ErrLotExists if the lot has spots.
func (r *SpotRepo) CreateLot(ctx context.Context, lotID string, spotNumbers []string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		exists, err := lotExists(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if exists {
			return models.ErrLotExists
		}
		_, err = insertSpots(ctx, tx, lotID, spotNumbers)
		return err
	})
}

// AddSpots adds spots to an existing lot, ignoring numbers already present.
// It returns how many spots were added.
func (r *SpotRepo) AddSpots(ctx context.Context, lotID string, spotNumbers []string) (int, error) {
	var added int
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		exists, err := lotExists(ctx, tx, lotID)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrLotNotFound
		}
		added, err = insertSpots(ctx, tx, lotID, spotNumbers)
		return err
	})
	return added, err
}

// UpsertLot creates the lot if needed and adds any missing spots.
func (r *SpotRepo) UpsertLot(ctx context.Context, lotID string, spotNumbers []string) (int, error) {
	var added int
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		added, err = insertSpots(ctx, tx, lotID, spotNumbers)
		return err
	})
	return added, err
}

// DeleteLot removes a lot. Lots with reserved spots are kept.
func (r *SpotRepo) DeleteLot(ctx context.Context, lotID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var total, reserved int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'reserved' THEN 1 ELSE 0 END), 0)
			FROM spots WHERE lot_id = ?`, lotID).Scan(&total, &reserved)
		if err != nil {
			return err
		}
		if total == 0 {
			return models.ErrLotNotFound
		}
		if reserved > 0 {
			return models.ErrLotHasReservations
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM spots WHERE lot_id = ? AND status = 'available'`, lotID)
		return err
	})
}

func lotExists(ctx context.Context, tx *sql.Tx, lotID string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM spots WHERE lot_id = ?`, lotID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertSpots(ctx context.Context, tx *sql.Tx, lotID string, spotNumbers []string) (int, error) {
	now := time.Now().UTC()
	added := 0
	for _, number := range spotNumbers {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO spots (lot_id, spot_number, status, updated_at) VALUES (?, ?, ?, ?)`,
			lotID, number, models.SpotAvailable, now)
		if err != nil {
			return added, fmt.Errorf("insert spot %s/%s: %w", lotID, number, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// GetReservation returns the reservation record of a booking.
func (r *SpotRepo) GetReservation(ctx context.Context, bookingID int64) (*models.Reservation, error) {
	return getReservation(ctx, r.db, bookingID)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getReservation(ctx context.Context, q rowQueryer, bookingID int64) (*models.Reservation, error) {
	var res models.Reservation
	err := q.QueryRowContext(ctx, `
		SELECT booking_id, lot_id, COALESCE(spot_number, ''), state, COALESCE(reason, ''), created_at, updated_at
		FROM reservations WHERE booking_id = ?`, bookingID).
		Scan(&res.BookingID, &res.LotID, &res.SpotNumber, &res.State, &res.Reason, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Reserve handles a booking's request for a spot in one transaction. A booking
// that already has a reservation record (including a cancellation tombstone)
// is returned unchanged with applied=false, and the event for its current
// state is stored again so a reply lost on the bus can be replayed. Otherwise
// the record is written as reserved or failed and its event is stored in the
// outbox.
func (r *SpotRepo) Reserve(ctx context.Context, req ReserveRequest, event ReservationEventFactory) (*models.Reservation, bool, error) {
	var (
		result  *models.Reservation
		applied bool
	)
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getReservation(ctx, tx, req.BookingID)
		if err == nil {
			result = existing
			return insertOutbox(ctx, tx, event(existing))
		}
		if !errors.Is(err, models.ErrReservationNotFound) {
			return err
		}

		now := time.Now().UTC()
		res := &models.Reservation{BookingID: req.BookingID, LotID: req.LotID, CreatedAt: now, UpdatedAt: now}

		candidates, reason, err := reserveCandidates(ctx, tx, req)
		if err != nil {
			return err
		}
		for _, number := range candidates {
			won, err := casReserve(ctx, tx, req.LotID, number, req.BookingID, now)
			if err != nil {
				return err
			}
			if won {
				res.SpotNumber = number
				break
			}
		}

		if res.SpotNumber != "" {
			res.State = models.ReservationReserved
		} else {
			res.State = models.ReservationFailed
			res.SpotNumber = req.SpotNumber
			res.Reason = reason
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (booking_id, lot_id, spot_number, state, reason, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.BookingID, res.LotID, nullString(res.SpotNumber), res.State, nullString(res.Reason), now, now)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if err := insertOutbox(ctx, tx, event(res)); err != nil {
			return err
		}
		result, applied = res, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}

// reserveCandidates lists the spots to try in order, or the failure reason
// when there is nothing to try.
func reserveCandidates(ctx context.Context, tx *sql.Tx, req ReserveRequest) ([]string, string, error) {
	if req.SpotNumber != "" {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM spots WHERE lot_id = ? AND spot_number = ?`,
			req.LotID, req.SpotNumber).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ReasonSpotNotFound, nil
		}
		if err != nil {
			return nil, "", err
		}
		return []string{req.SpotNumber}, models.ReasonSpotTaken, nil
	}

	spots, err := querySpots(ctx, tx, `
		SELECT id, lot_id, spot_number, status, booking_id, updated_at
		FROM spots WHERE lot_id = ?`, req.LotID)
	if err != nil {
		return nil, "", err
	}
	if len(spots) == 0 {
		return nil, models.ReasonLotNotFound, nil
	}
	var numbers []string
	for _, s := range spots {
		if s.Status == models.SpotAvailable {
			numbers = append(numbers, s.SpotNumber)
		}
	}
	return numbers, models.ReasonNoAvailableSpot, nil
}

func casReserve(ctx context.Context, tx *sql.Tx, lotID, number string, bookingID int64, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE spots SET status = ?, booking_id = ?, updated_at = ?
		WHERE lot_id = ? AND spot_number = ? AND status = ?`,
		models.SpotReserved, bookingID, now, lotID, number, models.SpotAvailable)
	return affected(res, err)
}

// Release handles a booking's cancellation in one transaction:
//   - reserved: the spot is returned to available and the record becomes released
//   - failed: the record becomes released, no spot is touched
//   - no record: a released tombstone is written so a late creation is ignored
//   - released: nothing changes (applied=false) and spot.released is stored again
func (r *SpotRepo) Release(ctx context.Context, bookingID int64, lotID string, event ReservationEventFactory) (*models.Reservation, bool, error) {
	var (
		result  *models.Reservation
		applied bool
	)
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := getReservation(ctx, tx, bookingID)
		switch {
		case errors.Is(err, models.ErrReservationNotFound):
			res = &models.Reservation{
				BookingID: bookingID,
				LotID:     lotID,
				State:     models.ReservationReleased,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (booking_id, lot_id, state, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				bookingID, lotID, res.State, now, now); err != nil {
				return fmt.Errorf("insert tombstone: %w", err)
			}
		case err != nil:
			return err
		case res.State == models.ReservationReleased:
			result = res
			return insertOutbox(ctx, tx, event(res))
		default:
			if res.State == models.ReservationReserved {
				if _, err := tx.ExecContext(ctx, `
					UPDATE spots SET status = ?, booking_id = NULL, updated_at = ?
					WHERE lot_id = ? AND spot_number = ? AND booking_id = ? AND status = ?`,
					models.SpotAvailable, now, res.LotID, res.SpotNumber, bookingID, models.SpotReserved); err != nil {
					return fmt.Errorf("release spot: %w", err)
				}
			} else {
				res.SpotNumber = ""
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE reservations SET state = ?, spot_number = ?, updated_at = ? WHERE booking_id = ?`,
				models.ReservationReleased, nullString(res.SpotNumber), now, bookingID); err != nil {
				return err
			}
			res.State = models.ReservationReleased
			res.UpdatedAt = now
		}

		if err := insertOutbox(ctx, tx, event(res)); err != nil {
			return err
		}
		result, applied = res, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, applied, nil
}
