package models

import "time"

// Booking statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Roles carried by access tokens.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Booking is a user's claim on a parking spot in a lot.
type Booking struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	LotID           string     `json:"lotId"`
	SpotID          string     `json:"spotId,omitempty"`
	RequestedSpotID string     `json:"requestedSpotId,omitempty"`
	Status          string     `json:"status"`
	FailureReason   string     `json:"failureReason,omitempty"`
	ReleasedAt      *time.Time `json:"releasedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Version         int64      `json:"version"`
}

// IsActive reports whether the booking still holds (or is waiting for) a spot.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// IsTerminal reports whether the booking can no longer change status.
func (b *Booking) IsTerminal() bool {
	return b.Status == StatusCancelled || b.Status == StatusFailed
}

// CanTransition reports whether moving from the current status to next is allowed.
func (b *Booking) CanTransition(next string) bool {
	switch b.Status {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled || next == StatusFailed
	case StatusConfirmed:
		return next == StatusCancelled
	default:
		return false
	}
}

// BookingFilter narrows admin listings. Zero values mean "any".
type BookingFilter struct {
	Status string
	UserID int64
	LotID  string
	Limit  int
}

// Requester is the authenticated caller of a booking operation.
type Requester struct {
	UserID int64
	Email  string
	Role   string
}

// IsAdmin reports whether the requester holds the admin role.
func (r Requester) IsAdmin() bool {
	return r.Role == RoleAdmin
}

// Owns reports whether the requester created the booking.
func (r Requester) Owns(b *Booking) bool {
	return b != nil && b.UserID == r.UserID
}
