package utils

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestIsqrt(t *testing.T) {
	tests := []struct {
		name     string
		a, b     int64
		expected int64
	}{
		{"zero", 0, 0, 0},
		{"perfect square", 4, 9, 6},
		{"equal factors", 1000000, 1000000, 1000000},
		{"truncates down", 2, 4, 2}, // sqrt(8) = 2.83
		{"one unit", 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Isqrt(sdkmath.NewInt(tt.a), sdkmath.NewInt(tt.b))
			if err != nil {
				t.Fatalf("Isqrt returned error: %v", err)
			}
			if !got.Equal(sdkmath.NewInt(tt.expected)) {
				t.Errorf("Isqrt(%d*%d) = %s, want %d", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestIsqrtLargeProduct(t *testing.T) {
	// 1e18 * 1e18 overflows int64 but not big.Int; sqrt must be exactly 1e18.
	wei := sdkmath.NewIntWithDecimal(1, 18)
	got, err := Isqrt(wei, wei)
	if err != nil {
		t.Fatalf("Isqrt returned error: %v", err)
	}
	if !got.Equal(wei) {
		t.Errorf("Isqrt(1e18*1e18) = %s, want 1e18", got)
	}
}

func TestIsqrtNegative(t *testing.T) {
	_, err := Isqrt(sdkmath.NewInt(-1), sdkmath.NewInt(1))
	if !errors.Is(err, ErrAmountNegative) {
		t.Errorf("expected ErrAmountNegative, got %v", err)
	}
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name           string
		amount, num    int64
		den            int64
		expected       int64
		expectedCeiled int64
	}{
		{"exact", 100, 3, 6, 50, 50},
		{"truncating", 100, 1, 3, 33, 34},
		{"zero amount", 0, 5, 7, 0, 0},
		{"identity", 42, 10, 10, 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(sdkmath.NewInt(tt.amount), sdkmath.NewInt(tt.num), sdkmath.NewInt(tt.den))
			if err != nil {
				t.Fatalf("MulDiv returned error: %v", err)
			}
			if !got.Equal(sdkmath.NewInt(tt.expected)) {
				t.Errorf("MulDiv = %s, want %d", got, tt.expected)
			}
			ceiled, err := MulDivCeil(sdkmath.NewInt(tt.amount), sdkmath.NewInt(tt.num), sdkmath.NewInt(tt.den))
			if err != nil {
				t.Fatalf("MulDivCeil returned error: %v", err)
			}
			if !ceiled.Equal(sdkmath.NewInt(tt.expectedCeiled)) {
				t.Errorf("MulDivCeil = %s, want %d", ceiled, tt.expectedCeiled)
			}
		})
	}
}

func TestMulDivZeroDenominator(t *testing.T) {
	_, err := MulDiv(sdkmath.NewInt(1), sdkmath.NewInt(1), sdkmath.ZeroInt())
	if !errors.Is(err, ErrConversionFailed) {
		t.Errorf("expected ErrConversionFailed, got %v", err)
	}
}

func TestSDKIntToFloat64(t *testing.T) {
	amount := sdkmath.NewInt(1500000)
	got, err := SDKIntToFloat64(amount, 6)
	if err != nil {
		t.Fatalf("SDKIntToFloat64 returned error: %v", err)
	}
	if got != 1.5 {
		t.Errorf("expected 1.5, got %f", got)
	}
}
