package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MantissaScale is the fixed-point scale for all monetary values: a mantissa
// is the represented decimal multiplied by 10⁸, stored as a signed 64-bit
// integer. All arithmetic on monetary values is integer arithmetic; division
// is truncated and only ever applied with a denominator ≥ 1.
const MantissaScale int64 = 100_000_000

const mantissaDigits = 8

// MantissaFromDecimal converts a decimal string such as "150.25" into its
// mantissa representation using banker's rounding (half to even) on the
// ninth fractional digit. It returns ErrOverflow wrapped as a validation
// failure when the value does not fit in an int64.
func MantissaFromDecimal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Classifyf(KindValidation, "decimal: empty string")
	}

	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, Classifyf(KindValidation, "decimal: malformed %q", s)
	}
	if intPart == "" {
		intPart = "0"
	}

	whole, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil {
		return 0, Classifyf(KindValidation, "decimal: integer part of %q: %w", s, err)
	}

	// Scale the fraction to exactly 8 digits, remembering the discarded tail
	// for rounding.
	frac := uint64(0)
	roundUp := false
	for i := 0; i < len(fracPart); i++ {
		d := fracPart[i]
		if d < '0' || d > '9' {
			return 0, Classifyf(KindValidation, "decimal: malformed fraction in %q", s)
		}
		if i < mantissaDigits {
			frac = frac*10 + uint64(d-'0')
		}
	}
	for i := len(fracPart); i < mantissaDigits; i++ {
		frac *= 10
	}
	if len(fracPart) > mantissaDigits {
		tail := fracPart[mantissaDigits:]
		roundUp = roundHalfEven(frac, tail)
	}
	if roundUp {
		frac++
		if frac == uint64(MantissaScale) {
			frac = 0
			whole++
		}
	}

	const maxWhole = uint64(math.MaxInt64) / uint64(MantissaScale)
	if whole > maxWhole {
		return 0, Classify(KindValidation, fmt.Errorf("decimal %q: %w", s, ErrOverflow))
	}
	m := whole*uint64(MantissaScale) + frac
	if m > uint64(math.MaxInt64) {
		return 0, Classify(KindValidation, fmt.Errorf("decimal %q: %w", s, ErrOverflow))
	}

	out := int64(m)
	if neg {
		out = -out
	}
	return out, nil
}

// roundHalfEven decides whether to round up given the kept fraction and the
// discarded decimal tail. Ties (tail exactly "5000...") round toward an even
// kept fraction.
func roundHalfEven(kept uint64, tail string) bool {
	first := tail[0]
	if first > '5' {
		return true
	}
	if first < '5' {
		return false
	}
	for i := 1; i < len(tail); i++ {
		if tail[i] != '0' {
			return true
		}
	}
	// Exact tie: round to even.
	return kept%2 == 1
}

// MantissaString renders a mantissa as a decimal string with trailing
// fraction zeros trimmed, e.g. 15000000000 → "150".
func MantissaString(m int64) string {
	neg := m < 0
	if neg {
		m = -m
	}
	whole := m / MantissaScale
	frac := m % MantissaScale

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(whole, 10))
	if frac != 0 {
		f := fmt.Sprintf("%08d", frac)
		f = strings.TrimRight(f, "0")
		b.WriteByte('.')
		b.WriteString(f)
	}
	return b.String()
}
