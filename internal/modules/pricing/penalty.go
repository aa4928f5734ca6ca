package pricing

import (
	"math"
	"time"

	"carshare/internal/types"
)

// Penalty returns the fraction of the booking amount kept when a confirmed
// booking is cancelled at cancelledAt for a ride leaving at departure.
//
// Cancelling after departure still lands in the late tier.
func (p PenaltyPolicy) Penalty(departure, cancelledAt time.Time) float64 {
	if departure.Sub(cancelledAt) >= p.FreeWindow {
		return 0
	}
	return p.LateFraction
}

// Refund breaks amount down into the penalty kept and the amount returned.
func (p PenaltyPolicy) Refund(amount types.Money, penalty float64) RefundBreakdown {
	if math.IsNaN(penalty) || penalty < 0 {
		penalty = 0
	}
	if penalty > 1 {
		penalty = 1
	}
	kept := fraction(amount.Amount, penalty)
	return RefundBreakdown{
		OriginalAmount:             amount,
		CancellationPenaltyPercent: math.Round(penalty*10000) / 100,
		CancellationPenaltyAmount:  types.Money{Amount: kept, Currency: amount.Currency},
		RefundAmount:               types.Money{Amount: amount.Amount - kept, Currency: amount.Currency},
	}
}
