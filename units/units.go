// Package units converts between human readable ether amounts and wei.
package units

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var unitDecimals = map[string]int32{
	"wei":    0,
	"kwei":   3,
	"mwei":   6,
	"gwei":   9,
	"szabo":  12,
	"finney": 15,
	"ether":  18,
	"eth":    18,
}

// ParseUnits parses amount expressed with decimals fractional digits into
// its integer base unit value. Fractions finer than the base unit are
// rejected.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid amount %q", amount)
	}

	if d.IsNegative() {
		return nil, errors.Errorf("negative amount %q", amount)
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errors.Errorf("amount %q has more than %d decimals", amount, decimals)
	}

	return shifted.BigInt(), nil
}

// ParseValue parses strings such as "1ether", "0.03 ether", "2gwei" or "10"
// (wei) into wei.
func ParseValue(value string) (*big.Int, error) {
	v := strings.ToLower(strings.TrimSpace(value))

	for unit, decimals := range unitDecimals {
		if strings.HasSuffix(v, unit) {
			number := strings.TrimSpace(strings.TrimSuffix(v, unit))
			// "gwei" also ends in "wei"; only accept the unit when what is
			// left is a number.
			if _, err := decimal.NewFromString(number); err != nil {
				continue
			}

			return ParseUnits(number, decimals)
		}
	}

	return ParseUnits(v, 0)
}

// ParseEther parses an ether amount into wei.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, 18)
}

// MustParseEther is like ParseEther but panics on malformed input.
func MustParseEther(amount string) *big.Int {
	wei, err := ParseEther(amount)
	if err != nil {
		panic(err)
	}

	return wei
}

// FormatUnits renders value with decimals fractional digits, trimming
// trailing zeros.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		value = new(big.Int)
	}

	return decimal.NewFromBigInt(value, -decimals).String()
}

// FormatEther renders wei as ether.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, 18)
}

// ToFloat converts value with decimals fractional digits to a float, for
// metrics and logs only.
func ToFloat(value *big.Int, decimals int32) float64 {
	f, _ := decimal.NewFromBigInt(value, -decimals).Float64()
	return f
}
