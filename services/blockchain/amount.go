package blockchain

import (
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// ToDecimal converts an on-chain integer amount to token units without going
// through floating point.
func ToDecimal(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// ToBaseUnits is the inverse of ToDecimal. Digits beyond the token precision
// are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// ToleranceBounds returns expected * (1 - p/100) and expected * (1 + p/100).
// Shift keeps the division by 100 exact at any precision.
func ToleranceBounds(expected, tolerancePercent decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	delta := expected.Mul(tolerancePercent).Shift(-2)
	return expected.Sub(delta), expected.Add(delta)
}

// WithinTolerance reports whether actual lies inside the tolerance band
// around expected. Both bounds are inclusive.
func WithinTolerance(expected, actual, tolerancePercent decimal.Decimal) bool {
	lo, hi := ToleranceBounds(expected, tolerancePercent)
	return actual.GreaterThanOrEqual(lo) && actual.LessThanOrEqual(hi)
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func ValidTxHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}
