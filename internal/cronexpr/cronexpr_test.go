package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	for _, expr := range []string{
		"0 2 * * *",
		"*/15 * * * *",
		"30 4 1 * *",
		"0 0 * * 0",
		"0 0 * * 7",
		"5,35 8-18 * * 1-5",
		"59 23 31 12 6",
	} {
		assert.NoError(t, Validate(expr), expr)
	}
}

func TestValidateRejectsWithFieldName(t *testing.T) {
	cases := []struct {
		expr    string
		wantMsg string
	}{
		{"60 2 * * *", "minute field"},
		{"0 24 * * *", "hour field"},
		{"0 2 0 * *", "day of month field"},
		{"0 2 32 * *", "day of month field"},
		{"0 2 * 13 *", "month field"},
		{"0 2 * * 8", "day of week field"},
		{"a 2 * * *", "minute field"},
		{"*/0 * * * *", "minute field"},
		{"10-5 * * * *", "minute field"},
	}
	for _, tc := range cases {
		err := Validate(tc.expr)
		require.Error(t, err, tc.expr)
		assert.Contains(t, err.Error(), tc.wantMsg, tc.expr)
	}
}

func TestValidateRejectsWrongFieldCount(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "* * * * * *"} {
		err := Validate(expr)
		require.Error(t, err, expr)
		assert.Contains(t, err.Error(), "5 fields")
	}
}

func TestNext(t *testing.T) {
	after := time.Date(2026, 8, 24, 1, 30, 0, 0, time.UTC)

	next, err := Next("0 2 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC), next)

	// Strictly after: at exactly 02:00 the next fire is tomorrow.
	next, err = Next("0 2 * * *", next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC), next)
}

func TestNextTreatsSevenAsSunday(t *testing.T) {
	after := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) // a Monday

	n7, err := Next("0 0 * * 7", after)
	require.NoError(t, err)
	n0, err := Next("0 0 * * 0", after)
	require.NoError(t, err)

	assert.Equal(t, n0, n7)
	assert.Equal(t, time.Sunday, n7.Weekday())
}
