// README: Ride aggregate published by drivers; bookings reserve its seats.
package ride

import (
	"errors"
	"time"

	"carshare/internal/types"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const MaxSeats = 8

var (
	ErrNotFound   = errors.New("ride not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
	ErrNotActive  = errors.New("ride is not scheduled")
	ErrNoSeats    = errors.New("not enough seats available")
)

type Place struct {
	Label string
	Point types.Point
}

type Ride struct {
	ID             types.ID
	DriverID       types.ID
	Origin         Place
	Destination    Place
	DepartureAt    time.Time
	Duration       time.Duration
	SeatsTotal     int
	SeatsAvailable int
	PricePerSeat   types.Money
	Status         Status
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Departed reports whether the ride has left at now.
func (r *Ride) Departed(now time.Time) bool {
	return !now.Before(r.DepartureAt)
}

type Nearby struct {
	Ride       Ride
	DistanceKm float64
}
