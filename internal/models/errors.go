package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrTransport  = errors.New("transport error")
)

var (
	ErrBookingNotFound     = fmt.Errorf("%w: booking not found", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("%w: reservation not found", ErrNotFound)
	ErrLotNotFound         = fmt.Errorf("%w: lot not found", ErrNotFound)
	ErrSpotNotFound        = fmt.Errorf("%w: spot not found", ErrNotFound)
	ErrBookingTerminal     = fmt.Errorf("%w: booking is already cancelled or failed", ErrConflict)
	ErrSpotTaken           = fmt.Errorf("%w: spot already booked", ErrConflict)
	ErrNoAvailableSpot     = fmt.Errorf("%w: no available spot", ErrConflict)
	ErrLotExists           = fmt.Errorf("%w: lot already exists", ErrConflict)
	ErrLotHasReservations  = fmt.Errorf("%w: lot has reserved spots", ErrConflict)
	ErrNotOwner            = fmt.Errorf("%w: not the owner of this booking", ErrForbidden)
	ErrAdminOnly           = fmt.Errorf("%w: admin role required", ErrForbidden)
)

// Kind values returned by Kind.
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindConflict   = "conflict"
	KindForbidden  = "forbidden"
	KindTransport  = "transport"
	KindInternal   = "internal"
)

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transport wraps an error raised by the event bus or a remote service.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// Kind classifies err into one of the taxonomy kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindInternal
	}
}
