package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parkhub/internal/events"
	"parkhub/internal/metrics"
	"parkhub/internal/models"
	"parkhub/internal/repository"
)

// Producer is the name stamped on events emitted by the booking service.
const Producer = "booking-service"

// BookingRepository is the booking store used by the coordinator.
type BookingRepository interface {
	CreateBooking(ctx context.Context, b *models.Booking, event repository.EventFactory) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error)
	CancelBooking(ctx context.Context, id int64, event repository.EventFactory) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, id int64, spotID string) (bool, error)
	FailBooking(ctx context.Context, id int64, reason string) (bool, error)
	MarkReleased(ctx context.Context, id int64, at time.Time) (bool, error)
}

// LotDirectory looks up lots in the parking inventory.
type LotDirectory interface {
	GetLot(ctx context.Context, lotID string) (*models.Lot, error)
}

// Notifier is woken after a write that left an event in the outbox.
type Notifier interface {
	Notify()
}

// CreateBookingInput is a booking request.
type CreateBookingInput struct {
	UserID int64
	LotID  string
	SpotID string
}

// BookingService coordinates the booking workflow: it records booking state
// and emits the events the inventory and notification services react to.
type BookingService struct {
	repo     BookingRepository
	lots     LotDirectory
	notifier Notifier
	logger   *zerolog.Logger
}

// NewBookingService builds the coordinator. lots and notifier may be nil.
func NewBookingService(repo BookingRepository, lots LotDirectory, notifier Notifier, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		repo:     repo,
		lots:     lots,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateBooking records a pending booking and emits booking.created.
// The spot is reserved asynchronously by the inventory.
func (s *BookingService) CreateBooking(ctx context.Context, req models.Requester, in CreateBookingInput) (*models.Booking, error) {
	in.LotID = strings.TrimSpace(in.LotID)
	in.SpotID = strings.TrimSpace(in.SpotID)
	if in.LotID == "" || in.UserID <= 0 {
		metrics.IncBookingCreated("invalid")
		return nil, models.Validationf("lotId and userId are required")
	}
	if !req.IsAdmin() && in.UserID != req.UserID {
		metrics.IncBookingCreated("forbidden")
		return nil, models.ErrNotOwner
	}

	if err := s.checkLot(ctx, in.LotID, in.SpotID); err != nil {
		metrics.IncBookingCreated("not_found")
		return nil, err
	}

	b := &models.Booking{
		UserID:          in.UserID,
		LotID:           in.LotID,
		RequestedSpotID: in.SpotID,
	}
	if err := s.repo.CreateBooking(ctx, b, CreatedEvent); err != nil {
		if errors.Is(err, models.ErrSpotTaken) {
			metrics.IncBookingCreated("conflict")
		} else {
			metrics.IncBookingCreated("error")
		}
		return nil, err
	}

	metrics.IncBookingCreated("ok")
	s.wake()
	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("user_id", b.UserID).
		Str("lot_id", b.LotID).
		Str("spot_id", b.RequestedSpotID).
		Msg("Booking created")
	return b, nil
}

// checkLot validates the lot and spot against the inventory when a directory
// is configured. Lookup failures other than not-found are logged and ignored:
// the inventory remains the final authority when it handles the event.
func (s *BookingService) checkLot(ctx context.Context, lotID, spotID string) error {
	if s.lots == nil {
		return nil
	}
	lot, err := s.lots.GetLot(ctx, lotID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return models.ErrLotNotFound
	case err != nil:
		s.logger.Warn().Err(err).Str("lot_id", lotID).Msg("lot lookup failed, accepting booking")
		return nil
	case spotID != "" && !lot.HasSpot(spotID):
		return models.ErrSpotNotFound
	}
	return nil
}

// GetBooking returns a booking visible to the requester.
func (s *BookingService) GetBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsAdmin() && !req.Owns(b) {
		return nil, models.ErrNotOwner
	}
	return b, nil
}

// ListMyBookings returns the requester's own bookings.
func (s *BookingService) ListMyBookings(ctx context.Context, req models.Requester) ([]models.Booking, error) {
	return s.repo.ListBookingsByUser(ctx, req.UserID)
}

// ListBookings returns every booking matching the filter. Admin only.
func (s *BookingService) ListBookings(ctx context.Context, req models.Requester, f models.BookingFilter) ([]models.Booking, error) {
	if !req.IsAdmin() {
		return nil, models.ErrAdminOnly
	}
	return s.repo.ListBookings(ctx, f)
}

// CancelBooking cancels the requester's own booking and emits booking.cancelled.
// Cancelling a booking that is already cancelled or failed is a conflict and
// emits nothing.
func (s *BookingService) CancelBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Owns(b) {
		s.logger.Warn().Int64("booking_id", id).Int64("user_id", req.UserID).Msg("cancel refused: not the owner")
		return nil, models.ErrNotOwner
	}
	return s.cancel(ctx, id, "owner")
}

// AdminCancelBooking cancels any booking on behalf of an administrator.
// It emits the same booking.cancelled event as the owner path.
func (s *BookingService) AdminCancelBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error) {
	if !req.IsAdmin() {
		return nil, models.ErrAdminOnly
	}
	return s.cancel(ctx, id, "admin")
}

func (s *BookingService) cancel(ctx context.Context, id int64, actor string) (*models.Booking, error) {
	b, err := s.repo.CancelBooking(ctx, id, CancelledEvent)
	if err != nil {
		return nil, err
	}
	metrics.IncBookingCancelled(actor)
	s.wake()
	s.logger.Info().Int64("booking_id", id).Str("actor", actor).Msg("Booking cancelled")
	return b, nil
}

func (s *BookingService) wake() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

// CreatedEvent builds the booking.created event for a stored booking.
func CreatedEvent(b *models.Booking) events.Envelope {
	return events.NewEnvelope(events.TopicBookingCreated, Producer, events.BookingPayload{
		BookingID: b.ID,
		UserID:    b.UserID,
		LotID:     b.LotID,
		SpotID:    b.RequestedSpotID,
		Status:    b.Status,
		Timestamp: b.CreatedAt,
	})
}

// CancelledEvent builds the booking.cancelled event for a stored booking.
func CancelledEvent(b *models.Booking) events.Envelope {
	spot := b.SpotID
	if spot == "" {
		spot = b.RequestedSpotID
	}
	return events.NewEnvelope(events.TopicBookingCancelled, Producer, events.BookingPayload{
		BookingID: b.ID,
		UserID:    b.UserID,
		LotID:     b.LotID,
		SpotID:    spot,
		Timestamp: b.UpdatedAt,
	})
}
