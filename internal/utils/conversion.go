/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// Isqrt returns the integer square root of the product a*b, i.e.
// floor(sqrt(a*b)). The product is formed on big.Int so the usual
// 64-bit overflow of amount*amount never truncates the result.
func Isqrt(a, b sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if a.IsNegative() || b.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	product := new(big.Int).Mul(a.BigInt(), b.BigInt())
	return sdkmath.NewIntFromBigInt(new(big.Int).Sqrt(product)), nil
}

// MulDiv computes amount * numerator / denominator on big.Int, truncating
// toward zero. This is the proportional-share primitive used by the pool
// ledger math.
func MulDiv(amount, numerator, denominator sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || numerator.IsNil() || denominator.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if denominator.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: division by zero", ErrConversionFailed)
	}
	out := new(big.Int).Mul(amount.BigInt(), numerator.BigInt())
	out.Quo(out, denominator.BigInt())
	return sdkmath.NewIntFromBigInt(out), nil
}

// MulDivCeil computes ceil(amount * numerator / denominator) on big.Int.
func MulDivCeil(amount, numerator, denominator sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || numerator.IsNil() || denominator.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if denominator.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: division by zero", ErrConversionFailed)
	}
	num := new(big.Int).Mul(amount.BigInt(), numerator.BigInt())
	out, rem := new(big.Int).QuoRem(num, denominator.BigInt(), new(big.Int))
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return sdkmath.NewIntFromBigInt(out), nil
}

// DecToFloat64 converts a LegacyDec ratio to float64 for metrics/display use
func DecToFloat64(dec sdkmath.LegacyDec) (float64, error) {
	if dec.IsNil() {
		return 0, ErrAmountNil
	}
	result, err := dec.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}
