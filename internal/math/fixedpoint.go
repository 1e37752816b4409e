// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// ValueConfig is the unit-of-account precision (0.000001)
	ValueConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// RateConfig is the fee-rate precision in parts per million (1% = 10_000)
	RateConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// numerator and denominator must be non-negative.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.QuoRem(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / c with a 128-bit intermediate.
// The caller guarantees the result fits in int64.
func MulDiv(a, b, c int64, roundingMode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, c, roundingMode)
	putInt128(num)
	return result
}

// ApplyRate returns amount * (1 + rate) where rate is in RateConfig scale.
func ApplyRate(amount, rate int64, roundingMode RoundingMode) int64 {
	return MulDiv(amount, RateConfig.Scale+rate, RateConfig.Scale, roundingMode)
}
