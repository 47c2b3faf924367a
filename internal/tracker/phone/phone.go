// Package phone normalizes phone numbers and derives the lookup variants
// used to match a number across formatting differences.
package phone

import "strings"

// MinMatchDigits is the shortest digit string considered a real number.
// Shorter strings (service codes, "0") produce too many false matches.
const MinMatchDigits = 7

// Normalize strips formatting from a phone number, keeping digits and a
// single leading '+'.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Digits returns only the digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Suffix returns the last n digits of number, or all digits if there are fewer.
func Suffix(number string, n int) string {
	d := Digits(number)
	if len(d) <= n {
		return d
	}
	return d[len(d)-n:]
}

// Variants returns the exact lookup keys for a normalized number: itself and
// the form with the leading '+' toggled. Suffix matching is done separately.
func Variants(number string) []string {
	n := Normalize(number)
	if n == "" {
		return nil
	}
	if strings.HasPrefix(n, "+") {
		return []string{n, n[1:]}
	}
	return []string{n, "+" + n}
}

// Equivalent reports whether two numbers refer to the same line: equal after
// normalization, or sharing the last 10 digits when both have at least 10.
func Equivalent(a, b string) bool {
	da, db := Digits(a), Digits(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	if len(da) >= 10 && len(db) >= 10 {
		return da[len(da)-10:] == db[len(db)-10:]
	}
	return false
}
