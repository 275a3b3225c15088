package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the number of decimal places between base units and display units.
const DefaultDecimals int32 = 9

// FormatAmount renders an amount in base units as a decimal string with the given number of decimals.
// Trailing zeros are dropped, so 1500000000 with 9 decimals renders as "1.5".
func FormatAmount(amount uint64, decimals int32) string {
	return decimal.NewFromUint64(amount).Shift(-decimals).String()
}

// ParseAmount converts a decimal display string into base units.
// Values with more precision than decimals allows, negative values, and values that do not fit
// in a uint64 are rejected rather than rounded.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	base := d.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if base.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return base.BigInt().Uint64(), nil
}
