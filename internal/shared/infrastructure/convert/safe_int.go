// Package convert provides overflow-checked integer conversions.
package convert

import (
	"fmt"
	"math"
)

// IntToInt32 converts an int to int32, returning an error on overflow.
func IntToInt32(v int) (int32, error) {
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("integer overflow: %d cannot be converted to int32", v)
	}
	return int32(v), nil
}

// IntToInt32Safe converts an int to int32, panicking on overflow. Use only
// for values bounded by business logic.
func IntToInt32Safe(v int) int32 {
	if v > math.MaxInt32 || v < math.MinInt32 {
		panic(fmt.Sprintf("integer overflow: %d cannot be converted to int32", v))
	}
	return int32(v)
}

// IntToUintSafe converts an int to uint, panicking if negative.
func IntToUintSafe(v int) uint {
	if v < 0 {
		panic(fmt.Sprintf("cannot convert negative int to uint: %d", v))
	}
	return uint(v)
}

// Int64ToIntClamped converts an int64 to int, clamping to int bounds.
func Int64ToIntClamped(v int64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	if v < math.MinInt {
		return math.MinInt
	}
	return int(v)
}
