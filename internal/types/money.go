// README: Money in minor units; fares, refunds, and driver earnings share it.
package types

// Money is an amount in the currency's minor unit (cents for usd). Fares are
// always server-computed; a zero amount means pricing never ran.
type Money struct {
	Amount   int64
	Currency string
}

// Zero reports an unpriced amount.
func (m Money) Zero() bool {
	return m.Amount == 0
}
