package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMantissaFromDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"150", 15000000000},
		{"150.25", 15025000000},
		{"0.00000001", 1},
		{"180.00", 18000000000},
		{"-2.5", -250000000},
		{"+0.1", 10000000},
		{".5", 50000000},
		// Banker's rounding on the ninth digit.
		{"0.000000015", 2},  // tie, 1 is odd → up to even
		{"0.000000025", 2},  // tie, 2 is even → stays
		{"0.0000000251", 3}, // beyond tie → up
		{"0.000000024", 2},  // below half → down
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := MantissaFromDecimal(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMantissaFromDecimalRejects(t *testing.T) {
	for _, in := range []string{"", ".", "abc", "1.2.3", "1,5", "12a.5", "1.5x"} {
		t.Run(in, func(t *testing.T) {
			_, err := MantissaFromDecimal(in)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestMantissaFromDecimalOverflow(t *testing.T) {
	_, err := MantissaFromDecimal("92233720369")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	// Largest representable whole value still fits.
	got, err := MantissaFromDecimal("92233720368")
	require.NoError(t, err)
	assert.Equal(t, int64(9223372036800000000), got)
}

func TestMantissaString(t *testing.T) {
	assert.Equal(t, "150", MantissaString(15000000000))
	assert.Equal(t, "150.25", MantissaString(15025000000))
	assert.Equal(t, "-0.5", MantissaString(-50000000))
	assert.Equal(t, "0", MantissaString(0))
	assert.Equal(t, "0.00000001", MantissaString(1))
}
