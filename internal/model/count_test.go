package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountAbsentVsZero(t *testing.T) {
	t.Parallel()

	absent := Absent()
	zero := CountOf(0)

	assert.False(t, absent.Known())
	assert.True(t, zero.Known())
	assert.NotEqual(t, absent, zero)

	_, ok := absent.Value()
	assert.False(t, ok)
	v, ok := zero.Value()
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)

	assert.Equal(t, "absent", absent.String())
	assert.Equal(t, "0", zero.String())
}

func TestCountAddKeepsAbsence(t *testing.T) {
	t.Parallel()

	assert.False(t, Absent().Add(5).Known())
	assert.Equal(t, int64(7), CountOf(2).Add(5).OrZero())
}

func TestCountJSONRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("absent marshals to null", func(t *testing.T) {
		t.Parallel()
		b, err := json.Marshal(Absent())
		require.NoError(t, err)
		assert.Equal(t, "null", string(b))

		var c Count
		require.NoError(t, json.Unmarshal(b, &c))
		assert.False(t, c.Known())
	})

	t.Run("observed zero survives", func(t *testing.T) {
		t.Parallel()
		b, err := json.Marshal(CountOf(0))
		require.NoError(t, err)
		assert.Equal(t, "0", string(b))

		var c Count
		require.NoError(t, json.Unmarshal(b, &c))
		assert.True(t, c.Known())
		assert.Equal(t, int64(0), c.OrZero())
	})
}

func TestFlagKleene(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b Flag
		and  Flag
		or   Flag
	}{
		{FlagTrue, FlagTrue, FlagTrue, FlagTrue},
		{FlagTrue, FlagFalse, FlagFalse, FlagTrue},
		{FlagTrue, FlagUnknown, FlagUnknown, FlagTrue},
		{FlagFalse, FlagFalse, FlagFalse, FlagFalse},
		{FlagFalse, FlagUnknown, FlagFalse, FlagUnknown},
		{FlagUnknown, FlagUnknown, FlagUnknown, FlagUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.and, tc.a.And(tc.b), "%s AND %s", tc.a, tc.b)
		assert.Equal(t, tc.and, tc.b.And(tc.a), "%s AND %s", tc.b, tc.a)
		assert.Equal(t, tc.or, tc.a.Or(tc.b), "%s OR %s", tc.a, tc.b)
		assert.Equal(t, tc.or, tc.b.Or(tc.a), "%s OR %s", tc.b, tc.a)
	}

	assert.Equal(t, FlagFalse, FlagTrue.Not())
	assert.Equal(t, FlagTrue, FlagFalse.Not())
	assert.Equal(t, FlagUnknown, FlagUnknown.Not())
}

func TestFlagZeroValueIsUnknownInCombinators(t *testing.T) {
	t.Parallel()

	var f Flag
	assert.False(t, f.Known())
	assert.Equal(t, "unknown", f.String())
	assert.Equal(t, FlagUnknown, f.And(FlagTrue))
}
