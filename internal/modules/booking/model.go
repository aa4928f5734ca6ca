// README: Booking aggregate, status definitions and the transition table.
package booking

import (
	"errors"
	"fmt"
	"time"

	"carshare/internal/modules/payment"
	"carshare/internal/modules/pricing"
	"carshare/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrConflict is returned when another transition on the same booking
	// won the lock or the version check.
	ErrConflict        = fmt.Errorf("booking state conflict: %w", ErrInvalidStateTransition)
	ErrNotFound        = errors.New("booking not found")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrNoSeats         = errors.New("not enough seats available")
	ErrActiveBooking   = errors.New("passenger already has an active booking on this ride")
	ErrPaymentRequired = errors.New("booking has no authorized payment")
)

type ActorType string

const (
	ActorPassenger ActorType = "passenger"
	ActorDriver    ActorType = "driver"
	ActorSystem    ActorType = "system"
)

type Actor struct {
	Type ActorType `json:"type"`
	ID   types.ID  `json:"id,omitempty"`
}

// System is the actor for scheduled jobs and the reconciler.
var System = Actor{Type: ActorSystem}

type Booking struct {
	ID            types.ID
	RideID        types.ID
	PassengerID   types.ID
	DriverID      types.ID
	Status        Status
	StatusVersion int
	Seats         int
	Amount        types.Money

	// AlertDriver and AlertPassenger flag an unseen change for that party.
	AlertDriver    bool
	AlertPassenger bool

	CancelReason string
	CancelledBy  ActorType

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	RejectedAt  *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

// Active reports whether the booking still holds or may hold seats.
func (b *Booking) Active() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    types.ID
	CreatedAt  time.Time
}

// AllowedTransitions is the booking lifecycle as code. Terminal states have
// no entry.
var AllowedTransitions = map[Status][]Status{
	StatusNone:      {StatusPending},
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func Terminal(s Status) bool {
	_, ok := AllowedTransitions[s]
	return !ok
}

// RefundResult is the cancellation refund as reported to callers. Error is
// set instead of RefundID when the processor call failed.
type RefundResult struct {
	pricing.RefundBreakdown
	RefundID string
	Error    string
}

// Outcome is what a transition reports back to the orchestration layer.
type Outcome struct {
	Booking        *Booking
	SeatsAvailable int
	Payment        *payment.Payment
	Refund         *RefundResult
}
