package asset

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Denom identifies a fungible token: the contract that issues it, its
// ticker symbol and the number of decimals its integer amounts carry.
type Denom struct {
	Issuer    common.Address `json:"issuer"`
	Symbol    string         `json:"symbol"`
	Precision uint8          `json:"precision"`
}

// Key returns the identity of the denomination, ignoring precision.
// Format: "{SYMBOL}@{issuer hex}"
func (d Denom) Key() string {
	return fmt.Sprintf("%s@%s", d.Symbol, d.Issuer.Hex())
}

func (d Denom) String() string { return d.Key() }

// Same reports whether two denominations name the same token.
func (d Denom) Same(o Denom) bool {
	return d.Issuer == o.Issuer && d.Symbol == o.Symbol
}

// Validate checks symbol shape and precision range.
func (d Denom) Validate() error {
	if len(d.Symbol) == 0 || len(d.Symbol) > 12 {
		return fmt.Errorf("symbol %q must be 1-12 characters: %w", d.Symbol, dexerr.ErrInvalidParam)
	}
	for _, c := range d.Symbol {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("symbol %q must be upper-case letters: %w", d.Symbol, dexerr.ErrInvalidParam)
		}
	}
	if d.Precision > decmath.MaxPrecision {
		return fmt.Errorf("precision %d exceeds %d: %w", d.Precision, decmath.MaxPrecision, dexerr.ErrInvalidParam)
	}
	return nil
}

// Format renders an integer amount as a fixed-point string, e.g.
// 1234500 with precision 4 -> "123.4500".
func (d Denom) Format(amount int64) string {
	return decimal.New(amount, -int32(d.Precision)).StringFixed(int32(d.Precision))
}

// Parse converts a fixed-point string into an integer amount. Inputs with
// more fractional digits than the precision are rejected rather than rounded.
func (d Denom) Parse(s string) (int64, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %v: %w", s, err, dexerr.ErrInvalidParam)
	}
	scaled := v.Shift(int32(d.Precision))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%q has more than %d decimals: %w", s, d.Precision, dexerr.ErrInvalidParam)
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%q out of range: %w", s, dexerr.ErrOverflow)
	}
	return scaled.IntPart(), nil
}
