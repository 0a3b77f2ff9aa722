package keyspace_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frebib/kipa/internal/keyspace"
)

func TestFromKeyIsDeterministic(t *testing.T) {
	k := []byte("some-public-key-bytes")
	a := keyspace.FromKey(k)
	b := keyspace.FromKey(k)
	assert.Equal(t, a, b)
}

func TestFromKeyDiffersAcrossKeys(t *testing.T) {
	a := keyspace.FromKey([]byte("key-a"))
	b := keyspace.FromKey([]byte("key-b"))
	assert.NotEqual(t, a, b)
}

func TestFromKeyWithinCube(t *testing.T) {
	c := keyspace.FromKey([]byte("bounds-check"))
	for i, v := range c {
		require.GreaterOrEqualf(t, v, -1.0, "axis %d below -1", i)
		require.LessOrEqualf(t, v, 1.0, "axis %d above 1", i)
	}
}

func TestDistanceIsNonNegativeAndSymmetric(t *testing.T) {
	a := keyspace.FromKey([]byte("alice"))
	b := keyspace.FromKey([]byte("bob"))
	d1 := keyspace.Distance(a, b)
	d2 := keyspace.Distance(b, a)
	assert.GreaterOrEqual(t, d1, 0.0)
	assert.InDelta(t, d1, d2, 1e-12)
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	a := keyspace.FromKey([]byte("self"))
	assert.Equal(t, 0.0, keyspace.Distance(a, a))
}

func TestAngleUndefinedAtZeroLength(t *testing.T) {
	origin := keyspace.Coordinate{}
	_, ok := keyspace.Angle(origin, origin, keyspace.FromKey([]byte("x")))
	assert.False(t, ok)
}

func TestAngleRangeAndOpposite(t *testing.T) {
	origin := keyspace.Coordinate{}
	a := keyspace.Coordinate{1, 0, 0, 0, 0, 0, 0, 0}
	b := keyspace.Coordinate{-1, 0, 0, 0, 0, 0, 0, 0}
	angle, ok := keyspace.Angle(origin, a, b)
	require.True(t, ok)
	assert.InDelta(t, math.Pi, angle, 1e-9)

	c := keyspace.Coordinate{0, 1, 0, 0, 0, 0, 0, 0}
	angle2, ok := keyspace.Angle(origin, a, c)
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, angle2, 1e-9)

	angle3, ok := keyspace.Angle(origin, a, a)
	require.True(t, ok)
	assert.InDelta(t, 0, angle3, 1e-9)
}
