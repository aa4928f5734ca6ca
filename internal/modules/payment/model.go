// README: Payment aggregate, status definitions and payment account lookups.
package payment

import (
	"errors"
	"time"

	"carshare/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound   = errors.New("payment not found")
	ErrNoAccount  = errors.New("no payout account on file")
	ErrBadRequest = errors.New("bad request")
)

type Payment struct {
	ID          types.ID
	BookingID   types.ID
	PassengerID types.ID
	DriverID    types.ID
	Status      Status

	Amount         types.Money
	PlatformFee    types.Money
	DriverAmount   types.Money
	CapturedAmount types.Money
	RefundedAmount types.Money

	IntentID            string
	TransferDestination string
	TransferID          string
	RefundID            string

	FailureCode    string
	FailureMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the payment still holds or moved passenger funds
// that a later booking transition has to settle.
func (p *Payment) Active() bool {
	switch p.Status {
	case StatusPending, StatusAuthorized, StatusCaptured:
		return true
	}
	return false
}

// NeedsTransfer is true for a captured payment whose driver share has not
// reached a connected account yet.
func (p *Payment) NeedsTransfer() bool {
	return p.Status == StatusCaptured && p.TransferDestination == "" && p.TransferID == ""
}

// Accounts holds the processor-side identifiers for a user.
type Accounts struct {
	UserID     types.ID
	CustomerID string
	PayoutID   string
}

// PayoutRecord is a driver withdrawal from the connected account balance.
type PayoutRecord struct {
	ID         types.ID
	DriverID   types.ID
	Amount     types.Money
	ExternalID string
	Status     string
	CreatedAt  time.Time
}
