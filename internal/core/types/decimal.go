// Package types holds the fixed-point decimal primitives used by costing and
// monetary fields. Binary floating point never enters a calculation.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount. Totals are stored with 2 places, unit prices with 4.
type Money = decimal.Decimal

// Quantity is a stock quantity with 4 decimal places.
type Quantity = decimal.Decimal

const (
	// CostScale is the quantization used by the kardex for quantities and unit costs.
	CostScale int32 = 4
	// MoneyScale is the quantization used for document totals and taxes.
	MoneyScale int32 = 2
)

// Q4 quantizes to 4 places, rounding ties away from zero (half-up on magnitudes).
func Q4(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// Q2 quantizes to 2 places with the same rounding rule as Q4.
func Q2(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Zero returns the zero decimal.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// ParseDecimal parses a plain decimal literal. Exponent notation is rejected
// to keep inputs strict and reproducible.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty decimal")
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("exponent notation not allowed: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal parses s and panics on error. Use only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Fixed4 renders d with exactly 4 fractional digits, e.g. "11.0000".
func Fixed4(d decimal.Decimal) string {
	return Q4(d).StringFixed(CostScale)
}

// Fixed2 renders d with exactly 2 fractional digits.
func Fixed2(d decimal.Decimal) string {
	return Q2(d).StringFixed(MoneyScale)
}

// Percentage returns Q2(base * pct / 100).
func Percentage(base, pct decimal.Decimal) decimal.Decimal {
	return Q2(base.Mul(pct).Div(decimal.NewFromInt(100)))
}
