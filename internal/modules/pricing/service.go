// README: Pricing service prices bookings and applies the commission and penalty rules.
package pricing

import (
	"fmt"
	"math"
	"time"

	"carshare/internal/types"
)

// PercentSource yields the commission percent currently configured. It is
// consulted on every quote, never cached.
type PercentSource func() float64

type Service struct {
	percent PercentSource
	policy  PenaltyPolicy
}

func NewService(percent PercentSource, policy PenaltyPolicy) *Service {
	if percent == nil {
		percent = func() float64 { return DefaultCommissionPercent }
	}
	return &Service{percent: percent, policy: policy}
}

// Quote prices seats on a ride and splits the total between platform and driver.
func (s *Service) Quote(pricePerSeat types.Money, seats int) (Commission, error) {
	if seats < 1 {
		return Commission{}, fmt.Errorf("%w: %d", ErrInvalidSeats, seats)
	}
	if pricePerSeat.Amount <= 0 {
		return Commission{}, fmt.Errorf("%w: price per seat %s", ErrInvalidAmount, pricePerSeat)
	}
	return SplitMoney(pricePerSeat.Mul(int64(seats)), s.CommissionPercent())
}

// Split applies the current commission percent to an arbitrary amount.
func (s *Service) Split(total types.Money) (Commission, error) {
	return SplitMoney(total, s.CommissionPercent())
}

func (s *Service) CommissionPercent() float64 {
	p := s.percent()
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 || p >= 100 {
		return DefaultCommissionPercent
	}
	return p
}

func (s *Service) CancellationRefund(amount types.Money, departure, cancelledAt time.Time) RefundBreakdown {
	return s.policy.Refund(amount, s.policy.Penalty(departure, cancelledAt))
}
