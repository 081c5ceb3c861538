// Package money provides shared fixed-point amount parsing and formatting.
//
// Amounts use 2 decimal places. All arithmetic happens on big.Int in the
// smallest unit (1.00 = 100 units); amounts are carried as decimal strings
// everywhere else and stored as NUMERIC in the database. Floating point is
// never used for balances.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "10.50") to its smallest-unit
// big.Int representation (1050). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a decimal string with exactly
// 2 decimal places (e.g. "10.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Add returns a+b as a formatted decimal string. Invalid operands are
// treated as zero.
func Add(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Add(x, y))
}

// Sub returns a-b as a formatted decimal string. The result may be negative.
func Sub(a, b string) string {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return Format(new(big.Int).Sub(x, y))
}

// Cmp compares two decimal strings: -1 if a < b, 0 if equal, 1 if a > b.
// Invalid operands are treated as zero.
func Cmp(a, b string) int {
	x, _ := Parse(a)
	y, _ := Parse(b)
	if x == nil {
		x = big.NewInt(0)
	}
	if y == nil {
		y = big.NewInt(0)
	}
	return x.Cmp(y)
}

// IsPositive reports whether s parses to an amount strictly greater than zero.
func IsPositive(s string) bool {
	x, ok := Parse(s)
	return ok && x.Sign() > 0
}

// Units converts a decimal string to its smallest-unit int64 value
// (e.g. "10.50" -> 1050). Used for gateways that bill in minor units.
// Returns 0 for invalid input.
func Units(s string) int64 {
	x, ok := Parse(s)
	if !ok {
		return 0
	}
	return x.Int64()
}
