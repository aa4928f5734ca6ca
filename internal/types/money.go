// README: Common value objects (ids, money, coordinates) used across modules.
package types

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// DefaultCurrency is the only currency the marketplace settles in.
const DefaultCurrency = "EUR"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

type Point struct {
	Lat float64
	Lng float64
}

// Money holds an amount in minor units (cents).
type Money struct {
	Amount   int64
	Currency string
}

func EUR(cents int64) Money {
	return Money{Amount: cents, Currency: DefaultCurrency}
}

// FromMajor converts a major-unit amount (e.g. 12.34 euros) into cents,
// rounding to the nearest minor unit.
func FromMajor(major float64, currency string) Money {
	return Money{Amount: int64(math.Round(major * 100)), Currency: currency}
}

func (m Money) Major() float64 {
	return float64(m.Amount) / 100
}

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}
}

func (m Money) Mul(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) String() string {
	sign := ""
	a := m.Amount
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, a/100, a%100, m.Currency)
}
