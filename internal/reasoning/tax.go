package reasoning

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// TaxAmount returns round(amount * rate / 100, 2). It is the only place tax is computed.
func TaxAmount(amount, rate float64) float64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Div(hundred).
		Round(2).
		InexactFloat64()
}

// Round2 rounds half away from zero to 2 decimals, the precision of every
// reported confidence.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
