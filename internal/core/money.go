// Package core provides money parsing and handling utilities.
//
// Amounts are kept as exact decimals. Rounding to cents happens only when a
// value is rendered, so a total is rounded once over the exact sum rather
// than per item.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is a currency-agnostic decimal amount.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MustParseMoney parses s or panics. Intended for tests and constants.
func MustParseMoney(s string) Money {
	m, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseAmount converts user input into a positive Money value.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and keeps
// every fractional digit. Signs, exponents, thousands separators and zero
// are rejected with ErrInvalidAmount.
//
// Examples:
//
//	ParseAmount("3.50")  -> 3.5, nil
//	ParseAmount("3,50")  -> 3.5, nil
//	ParseAmount("7.255") -> 7.255, nil
//	ParseAmount("abc")   -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return Money{}, ErrInvalidAmount
	}
	if parts[0] == "" && (len(parts) == 1 || parts[1] == "") {
		return Money{}, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return Money{}, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		parts[0] = "0"
	}
	s = parts[0]
	if len(parts) == 2 && parts[1] != "" {
		s += "." + parts[1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := Money{Decimal: d}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate rejects zero and negative amounts.
func (m Money) Validate() error {
	if !m.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Format renders the amount with exactly two decimals, rounding half away
// from zero (half-up for the positive amounts this package produces).
func (m Money) Format() string {
	return m.StringFixed(2)
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Decimal: m.Decimal.Add(o.Decimal)}
}

// Total sums the amounts of records exactly.
func Total(records []ExpenseRecord) Money {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Amount.Decimal)
	}
	return Money{Decimal: sum}
}
