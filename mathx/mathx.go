// Package mathx provides small numeric helpers for comparing values that
// arrive from instruments as decimal text.
package mathx

import (
	"math"
	"strings"
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Resolution returns the place value of the last digit of a decimal string,
// 0.01 for "2.22" and 1 for "10".  Exponents are honored, so "5e-3" is 0.001
func Resolution(s string) float64 {
	s = strings.TrimSpace(s)
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		e := s[i+1:]
		neg := strings.HasPrefix(e, "-")
		e = strings.TrimLeft(e, "+-")
		for _, c := range e {
			if c < '0' || c > '9' {
				break
			}
			exp = exp*10 + int(c-'0')
		}
		if neg {
			exp = -exp
		}
		s = s[:i]
	}
	decimals := 0
	if i := strings.IndexByte(s, '.'); i >= 0 {
		decimals = len(s) - i - 1
	}
	return math.Pow10(exp - decimals)
}
