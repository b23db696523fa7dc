// Package core provides the budgeting domain model: expense templates,
// income entries, and the derived per-month budget snapshot.
//
// This file contains money parsing and formatting. Amounts are stored as
// integer cents; user-entered decimal strings are parsed with
// shopspring/decimal to avoid floating-point drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmountToCents converts a user-entered decimal string to cents.
//
// Accepts both dot (12.34) and comma (12,34) separators and rounds half-up
// on the third decimal place. Only strictly positive amounts are valid.
func ParseAmountToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if cents.Sign() <= 0 || !cents.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// Decimal returns the amount as a decimal value for display and export.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount as a plain decimal string, e.g. "45.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
