package domain

import "github.com/shopspring/decimal"

// Cents is a monetary amount in integer minor units. All stored amounts use
// this representation; the decimal form only exists at the API boundary.
type Cents int64

var hundred = decimal.NewFromInt(100)

// CentsFromDecimal converts a decimal major-unit amount (e.g. 19.99) to
// integer cents, rounding half away from zero so 0.005 becomes a cent.
func CentsFromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Mul(hundred).Round(0).IntPart())
}

// CentsFromFloat converts a major-unit float from a JSON payload to cents.
// The float is routed through decimal so 19.99 does not become 1998.
func CentsFromFloat(v float64) Cents {
	return CentsFromDecimal(decimal.NewFromFloat(v))
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Div(hundred)
}

// Float64 returns the major-unit amount for JSON responses. Exact: cents
// divided by 100 always fits a float64 mantissa for realistic totals.
func (c Cents) Float64() float64 {
	return c.Decimal().InexactFloat64()
}
