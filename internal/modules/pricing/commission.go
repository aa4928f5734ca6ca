package pricing

import (
	"fmt"
	"math"

	"carshare/internal/types"
)

// CalculateCommission splits a gross amount given in major units.
// The commission is rounded half-up to the cent and the driver share is the
// remainder, so CommissionAmount + DriverAmount == TotalAmount exactly.
func CalculateCommission(amount, percent float64) (Commission, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return Commission{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return SplitMoney(types.FromMajor(amount, types.DefaultCurrency), percent)
}

// SplitMoney is CalculateCommission for an amount already held in cents.
func SplitMoney(total types.Money, percent float64) (Commission, error) {
	if total.Amount <= 0 || total.Amount > maxAmountCents {
		return Commission{}, fmt.Errorf("%w: %d cents", ErrInvalidAmount, total.Amount)
	}
	if math.IsNaN(percent) || percent <= 0 || percent >= 100 {
		return Commission{}, fmt.Errorf("%w: %v", ErrInvalidPercent, percent)
	}

	fee := fraction(total.Amount, percent/100)
	return Commission{
		TotalAmount:       total,
		CommissionAmount:  types.Money{Amount: fee, Currency: total.Currency},
		DriverAmount:      types.Money{Amount: total.Amount - fee, Currency: total.Currency},
		CommissionPercent: percent,
	}, nil
}

// fraction returns round_half_up(cents * f) using integer arithmetic on
// f expressed in millionths, which is exact for percents with up to four
// decimals.
func fraction(cents int64, f float64) int64 {
	micros := int64(math.Round(f * 1_000_000))
	return (cents*micros + 500_000) / 1_000_000
}
