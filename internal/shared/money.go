package shared

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the decimal precision carried by every stored amount.
const MoneyPlaces int32 = 2

// Amount carries the same value in the two currencies the company books in
// parallel. The pair is never derived one from the other; both legs are
// entered at the source and travel together through every calculation.
type Amount struct {
	USD decimal.Decimal
	AED decimal.Decimal
}

// NewAmount builds an Amount from string literals, panicking on bad input.
// Intended for tests and seed code.
func NewAmount(usd, aed string) Amount {
	return Amount{USD: decimal.RequireFromString(usd), AED: decimal.RequireFromString(aed)}
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount {
	return Amount{USD: decimal.Zero, AED: decimal.Zero}
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{USD: a.USD.Add(b.USD), AED: a.AED.Add(b.AED)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{USD: a.USD.Sub(b.USD), AED: a.AED.Sub(b.AED)}
}

// MulInt scales both legs by an integer quantity.
func (a Amount) MulInt(qty int64) Amount {
	q := decimal.NewFromInt(qty)
	return Amount{USD: a.USD.Mul(q), AED: a.AED.Mul(q)}
}

// MulRatio scales both legs by num/den. den must be non-zero.
func (a Amount) MulRatio(num, den decimal.Decimal) Amount {
	return Amount{USD: a.USD.Mul(num).Div(den), AED: a.AED.Mul(num).Div(den)}
}

// Percent returns a * pct/100.
func (a Amount) Percent(pct decimal.Decimal) Amount {
	hundred := decimal.NewFromInt(100)
	return Amount{USD: a.USD.Mul(pct).Div(hundred), AED: a.AED.Mul(pct).Div(hundred)}
}

// ClampZero floors each negative leg at zero.
func (a Amount) ClampZero() Amount {
	out := a
	if out.USD.IsNegative() {
		out.USD = decimal.Zero
	}
	if out.AED.IsNegative() {
		out.AED = decimal.Zero
	}
	return out
}

// Round normalises both legs to the configured precision.
func (a Amount) Round() Amount {
	return Amount{USD: a.USD.Round(MoneyPlaces), AED: a.AED.Round(MoneyPlaces)}
}

// IsZero reports whether both legs are zero.
func (a Amount) IsZero() bool {
	return a.USD.IsZero() && a.AED.IsZero()
}

// Equal reports exact equality of both legs.
func (a Amount) Equal(b Amount) bool {
	return a.USD.Equal(b.USD) && a.AED.Equal(b.AED)
}
