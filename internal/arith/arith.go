// Package arith provides guarded arithmetic for size computations measured
// in bits, bytes, samples and channels. The codec relies on these helpers to
// reject pathological dimensions before any allocation is sized by them.
package arith

import (
	"math"

	"github.com/pkg/errors"
)

// ErrOverflow reports a size computation that does not fit in its target
// type.
var ErrOverflow = errors.New("arithmetic overflow")

// Add returns x + y. Both operands must be non-negative sizes.
func Add(x, y int64) (int64, error) {
	if x < 0 || y < 0 || x > math.MaxInt64-y {
		return 0, errors.Wrapf(ErrOverflow, "add %d + %d", x, y)
	}
	return x + y, nil
}

// Mul returns x * y. Both operands must be non-negative sizes.
func Mul(x, y int64) (int64, error) {
	if x < 0 || y < 0 {
		return 0, errors.Wrapf(ErrOverflow, "mul %d * %d", x, y)
	}
	if y != 0 && x > math.MaxInt64/y {
		return 0, errors.Wrapf(ErrOverflow, "mul %d * %d", x, y)
	}
	return x * y, nil
}

// BytesFromBits returns the number of whole bytes needed to hold n bits.
func BytesFromBits(n int64) (int64, error) {
	m, err := Add(n, 7)
	if err != nil {
		return 0, err
	}
	return m / 8, nil
}
