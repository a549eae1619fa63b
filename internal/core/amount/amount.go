// Package amount handles arbitrary-precision chain values stored as strings.
//
// Values arrive as plain decimals, scientific notation (as some stores render
// large numerics) or 0x-prefixed hex quantities from JSON-RPC. Everything is
// normalised to a plain base-10 integer string before it is persisted.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse normalises s into an exact decimal. Empty strings parse as zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			return decimal.Zero, nil
		}
		n, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			return decimal.Zero, fmt.Errorf("invalid hex amount %q", s)
		}
		return decimal.NewFromBigInt(n, 0), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// Normalize rewrites s as a plain decimal string.
func Normalize(s string) (string, error) {
	d, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(d), nil
}

// Format renders d without exponent.
func Format(d decimal.Decimal) string {
	return d.String()
}

// IsPositive reports whether s parses to a value greater than zero.
func IsPositive(s string) bool {
	d, err := Parse(s)
	return err == nil && d.IsPositive()
}

// Equal compares two stored values numerically, so "1e+3" equals "1000".
func Equal(a, b string) bool {
	da, err := Parse(a)
	if err != nil {
		return false
	}
	db, err := Parse(b)
	if err != nil {
		return false
	}
	return da.Equal(db)
}
