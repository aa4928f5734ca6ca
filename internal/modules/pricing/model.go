// README: Commission split and cancellation refund value objects.
package pricing

import (
	"errors"
	"time"

	"carshare/internal/types"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidPercent = errors.New("invalid commission percent")
	ErrInvalidSeats   = errors.New("invalid seat count")
)

// DefaultCommissionPercent applies when APP_COMMISSION_PERCENT is unset or out of range.
const DefaultCommissionPercent = 15.0

// maxAmountCents keeps cents*micro-percent products inside int64.
const maxAmountCents = 1_000_000_000_000

type Commission struct {
	TotalAmount       types.Money
	CommissionAmount  types.Money
	DriverAmount      types.Money
	CommissionPercent float64
}

type RefundBreakdown struct {
	OriginalAmount             types.Money
	CancellationPenaltyPercent float64
	CancellationPenaltyAmount  types.Money
	RefundAmount               types.Money
}

// PenaltyPolicy is a two-tier step: cancelling at least FreeWindow before
// departure costs nothing, anything later costs LateFraction of the amount.
type PenaltyPolicy struct {
	FreeWindow   time.Duration
	LateFraction float64
}

var DefaultPenaltyPolicy = PenaltyPolicy{
	FreeWindow:   24 * time.Hour,
	LateFraction: 0.30,
}
