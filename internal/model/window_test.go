package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTimeWindowInclusiveBounds(t *testing.T) {
	t.Parallel()

	w := Window(day("2025-11-15"), day("2025-12-31"))

	assert.True(t, w.Contains(day("2025-11-15")), "start is inclusive")
	assert.True(t, w.Contains(day("2025-12-31")), "end is inclusive")
	assert.True(t, w.Contains(day("2025-12-01")))
	assert.False(t, w.Contains(day("2025-11-14")))
	assert.False(t, w.Contains(day("2026-01-01")))
}

func TestTimeWindowOpenEnd(t *testing.T) {
	t.Parallel()

	w := Window(day("2025-11-15"), time.Time{})

	assert.False(t, w.Bounded())
	assert.True(t, w.Contains(day("2030-01-01")))
	assert.False(t, w.Contains(day("2020-01-01")))
}

func TestTimeWindowRejectsZeroTime(t *testing.T) {
	t.Parallel()

	w := Window(time.Time{}, time.Time{})
	assert.False(t, w.Contains(time.Time{}), "zero timestamps never count as in-window")
}

func TestTimeWindowObservedEnd(t *testing.T) {
	t.Parallel()

	now := day("2026-02-01")
	assert.Equal(t, day("2025-12-31"), Window(day("2025-11-15"), day("2025-12-31")).ObservedEnd(now))
	assert.Equal(t, now, Window(day("2025-11-15"), time.Time{}).ObservedEnd(now))
}

func TestParseCompanyID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    CompanyID
		wantErr bool
	}{
		{"870", 870, false},
		{" 870 ", 870, false},
		{"870.0", 870, false},
		{"870.5", 0, true},
		{"", 0, true},
		{"acme", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseCompanyID(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		assert.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
