package safe

import (
	"errors"
	"math"
)

// ErrOverflow is returned when a quantity computation leaves the int64 range.
var ErrOverflow = errors.New("safe: quantity overflow")

// AddQty adds two quantities, reporting overflow instead of wrapping.
func AddQty(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubQty subtracts b from a, reporting overflow instead of wrapping.
func SubQty(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// ClampSub returns a-b floored at zero. Used wherever a counter must never
// go negative (released holds, available quantity).
func ClampSub(a, b int64) int64 {
	d, err := SubQty(a, b)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// MustAdd is AddQty for values already known to be in range.
// It panics on overflow.
func MustAdd(a, b int64) int64 {
	sum, err := AddQty(a, b)
	if err != nil {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return sum
}
