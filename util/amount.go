package util

import (
	"fmt"
	"math/big"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimals between a token and its base unit.
const TokenDecimals = 18

// ParseAmount reads a base-unit amount, e.g. "1000000".
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q: %w", s, models.ErrInvalidArgument)
	}
	return v, nil
}

// ParseToken reads a token amount such as "1.5" into base units. Fractions
// finer than one base unit are rejected.
func ParseToken(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, models.ErrInvalidArgument)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative: %w", s, models.ErrInvalidArgument)
	}
	wei := d.Shift(TokenDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has too many decimals: %w", s, models.ErrInvalidArgument)
	}
	return wei.BigInt(), nil
}

// FormatToken renders base units as a token amount.
func FormatToken(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -TokenDecimals).String()
}
