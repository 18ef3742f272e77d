// Package money provides an integer-only monetary type in the smallest
// currency unit. All arithmetic stays on int64; fractional rates are applied
// in basis points with half-away-from-zero rounding at the cent, so no
// floating point ever touches a persisted amount.
package money

import (
	"fmt"
	"strings"
)

// RateScale is the denominator for basis-point rates: 10000 bps = 100%.
const RateScale = 10000

// DefaultCurrency is the platform's settlement currency.
const DefaultCurrency = "zar"

// Money represents a monetary value in the smallest currency unit
// (cents for ZAR/USD/EUR).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"` // ISO 4217 lowercase: "zar", "usd", "eur"
}

// ZAR creates a Money value in South African Rand (cents).
func ZAR(cents int64) Money { return Money{Amount: cents, Currency: "zar"} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// New creates a Money value in an arbitrary currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return New(0, currency) }

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// ApplyRate applies a basis-point rate and rounds half away from zero at the
// smallest currency unit. This is the only place a fractional rate meets an
// amount, so rounding never compounds across intermediate values.
func (m Money) ApplyRate(bps int64) Money {
	n := m.Amount * bps
	q := n / RateScale
	r := n % RateScale
	if r < 0 {
		r = -r
	}
	if 2*r >= RateScale {
		if n < 0 {
			q--
		} else {
			q++
		}
	}
	return Money{Amount: q, Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && strings.EqualFold(m.Currency, other.Currency)
}

// SameCurrency reports whether the other value carries the same currency.
func (m Money) SameCurrency(other Money) bool {
	return strings.EqualFold(m.Currency, other.Currency)
}

// String formats the value as "ZAR 1150.00".
func (m Money) String() string {
	units := m.Amount / 100
	cents := m.Amount % 100
	if cents < 0 {
		cents = -cents
	}
	sign := ""
	if m.Amount < 0 && units == 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(m.Currency), sign, units, cents)
}

func (m Money) assertSameCurrency(other Money) {
	if !m.SameCurrency(other) {
		panic(fmt.Sprintf("money: currency mismatch: %s vs %s", m.Currency, other.Currency))
	}
}
