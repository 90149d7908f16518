package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToInt32(t *testing.T) {
	v, err := IntToInt32(42)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	_, err = IntToInt32(math.MaxInt32 + 1)
	assert.Error(t, err)
}

func TestIntToInt32Safe(t *testing.T) {
	assert.Equal(t, int32(7), IntToInt32Safe(7))
	assert.Panics(t, func() { IntToInt32Safe(math.MaxInt32 + 1) })
}

func TestIntToUintSafe(t *testing.T) {
	assert.Equal(t, uint(3), IntToUintSafe(3))
	assert.Panics(t, func() { IntToUintSafe(-1) })
}

func TestInt64ToIntClamped(t *testing.T) {
	assert.Equal(t, 10, Int64ToIntClamped(10))
	assert.Equal(t, math.MaxInt, Int64ToIntClamped(math.MaxInt64))
}
