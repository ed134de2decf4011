package models

import (
	"strings"
	"time"
)

// Spot statuses.
const (
	SpotAvailable = "available"
	SpotReserved  = "reserved"
)

// Reservation states kept by the inventory side, one per booking id.
const (
	ReservationReserved = "reserved"
	ReservationReleased = "released"
	ReservationFailed   = "failed"
)

// Reasons attached to failed reservations.
const (
	ReasonSpotTaken       = "spot_taken"
	ReasonSpotNotFound    = "spot_not_found"
	ReasonLotNotFound     = "lot_not_found"
	ReasonNoAvailableSpot = "no_available_spot"
)

// Spot is a single physical parking space.
type Spot struct {
	ID         int64     `json:"id"`
	LotID      string    `json:"lotId"`
	SpotNumber string    `json:"spotNumber"`
	Status     string    `json:"status"`
	BookingID  *int64    `json:"bookingId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Lot groups the spots of a parking lot.
type Lot struct {
	ID    string `json:"id"`
	Spots []Spot `json:"spots"`
}

// LotSummary is the aggregate view of a lot.
type LotSummary struct {
	ID             string `json:"id"`
	TotalSpots     int    `json:"totalSpots"`
	AvailableSpots int    `json:"availableSpots"`
	ReservedSpots  int    `json:"reservedSpots"`
}

// HasSpot reports whether the lot contains the given spot number.
func (l *Lot) HasSpot(number string) bool {
	for i := range l.Spots {
		if l.Spots[i].SpotNumber == number {
			return true
		}
	}
	return false
}

// Reservation records how the inventory reacted to a booking.
// A released reservation with no spot is a tombstone written when the
// cancellation arrived before the creation.
type Reservation struct {
	BookingID  int64     `json:"bookingId"`
	LotID      string    `json:"lotId"`
	SpotNumber string    `json:"spotNumber,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SpotNumberLess orders spot numbers naturally: digit runs compare by value
// and letters compare case-insensitively, so "A2" sorts before "a3" and "A10".
func SpotNumberLess(a, b string) bool {
	x, y := a, b
	for x != "" && y != "" {
		if isDigit(x[0]) && isDigit(y[0]) {
			nx, restX := leadingDigits(x)
			ny, restY := leadingDigits(y)
			tx, ty := strings.TrimLeft(nx, "0"), strings.TrimLeft(ny, "0")
			if len(tx) != len(ty) {
				return len(tx) < len(ty)
			}
			if tx != ty {
				return tx < ty
			}
			if len(nx) != len(ny) {
				return len(nx) < len(ny)
			}
			x, y = restX, restY
			continue
		}
		cx, cy := toLower(x[0]), toLower(y[0])
		if cx != cy {
			return cx < cy
		}
		x, y = x[1:], y[1:]
	}
	if len(x) != len(y) {
		return len(x) < len(y)
	}
	return a < b
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func leadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
