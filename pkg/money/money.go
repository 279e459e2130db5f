// Package money implements fixed-width monetary arithmetic for the circle
// engine. Amounts are int64 values in the platform's smallest unit. All
// basis-point math truncates toward zero and every operation that can leave
// the int64 domain reports ErrArithmeticOverflow instead of wrapping.
package money

import (
	"math"

	pkgerrors "circlepot/pkg/errors"
)

// Amount is a monetary value in the platform's smallest unit.
type Amount int64

// BpsDenominator is the divisor for basis-point rates (100 bps = 1%).
const BpsDenominator = 10_000

// CheckedAdd returns a+b, failing on int64 overflow.
func CheckedAdd(a, b Amount) (Amount, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, pkgerrors.ErrArithmeticOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b, failing when the result would be negative.
// Engine amounts are never negative, so underflow is an invariant breach.
func CheckedSub(a, b Amount) (Amount, error) {
	if b > a {
		return 0, pkgerrors.ErrArithmeticOverflow
	}
	return a - b, nil
}

// CheckedMul returns a*b, failing on int64 overflow.
func CheckedMul(a, b Amount) (Amount, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, pkgerrors.ErrArithmeticOverflow
	}
	if a == -1 && b == Amount(math.MinInt64) || b == -1 && a == Amount(math.MinInt64) {
		return 0, pkgerrors.ErrArithmeticOverflow
	}
	return product, nil
}

// ApplyBps returns a*bps/10000 with truncating division.
func ApplyBps(a Amount, bps int64) (Amount, error) {
	scaled, err := CheckedMul(a, Amount(bps))
	if err != nil {
		return 0, err
	}
	return scaled / BpsDenominator, nil
}

// MulDiv returns a*numerator/denominator with truncating division,
// used for proportional splits (surplus shares, vault share pricing).
func MulDiv(a, numerator, denominator Amount) (Amount, error) {
	if denominator == 0 {
		return 0, pkgerrors.ErrArithmeticOverflow
	}
	scaled, err := CheckedMul(a, numerator)
	if err != nil {
		return 0, err
	}
	return scaled / denominator, nil
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}
