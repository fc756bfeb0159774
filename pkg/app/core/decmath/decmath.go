// Package decmath implements exact scaled-integer arithmetic for
// price × quantity conversions and fee computation.
//
// Every operation truncates toward zero and uses a 256-bit intermediate,
// so products of two int64 values never wrap. Results that do not fit
// back into int64 fail with dexerr.ErrOverflow.
package decmath

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

const (
	// MaxPrecision is the largest supported decimal exponent (10^18 fits int64).
	MaxPrecision = 18

	// RatioPrecision is the denominator for fee and reward ratios.
	RatioPrecision int64 = 10000

	// FeeRatioMax is the highest taker/maker ratio accepted (49.99%).
	FeeRatioMax int64 = 4999
)

var powers [MaxPrecision + 1]int64

func init() {
	p := int64(1)
	for i := range powers {
		powers[i] = p
		p *= 10
	}
}

// Scale returns 10^power for power in [0, MaxPrecision].
func Scale(power uint8) (int64, error) {
	if power > MaxPrecision {
		return 0, fmt.Errorf("precision %d exceeds %d: %w", power, MaxPrecision, dexerr.ErrInvalidParam)
	}
	return powers[power], nil
}

// MulDiv returns floor(a*b/c).
func MulDiv(a, b, c int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("muldiv operands must be non-negative (a=%d b=%d): %w", a, b, dexerr.ErrInvalidParam)
	}
	if c <= 0 {
		return 0, fmt.Errorf("muldiv divisor must be positive (c=%d): %w", c, dexerr.ErrInvalidParam)
	}

	x := uint256.NewInt(uint64(a))
	x.Mul(x, uint256.NewInt(uint64(b)))
	x.Div(x, uint256.NewInt(uint64(c)))

	if !x.IsUint64() || x.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("muldiv %d*%d/%d: %w", a, b, c, dexerr.ErrOverflow)
	}
	return int64(x.Uint64()), nil
}

// QuoteFor converts a base quantity into the quote quantity it costs at
// price, where price is quote units per whole base unit.
func QuoteFor(baseQty, price int64, basePrecision uint8) (int64, error) {
	s, err := Scale(basePrecision)
	if err != nil {
		return 0, err
	}
	return MulDiv(baseQty, price, s)
}

// BaseFor converts a quote quantity into the base quantity it buys at price.
func BaseFor(quoteQty, price int64, basePrecision uint8) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %d: %w", price, dexerr.ErrInvalidParam)
	}
	s, err := Scale(basePrecision)
	if err != nil {
		return 0, err
	}
	return MulDiv(quoteQty, s, price)
}

// Fee returns floor(amount*ratio/RatioPrecision). A fee may never consume
// the whole amount; a zero amount carries a zero fee.
func Fee(amount, ratio int64) (int64, error) {
	if ratio < 0 || ratio >= RatioPrecision {
		return 0, fmt.Errorf("fee ratio %d out of range: %w", ratio, dexerr.ErrInvalidParam)
	}
	if amount == 0 {
		return 0, nil
	}
	f, err := MulDiv(amount, ratio, RatioPrecision)
	if err != nil {
		return 0, err
	}
	if f >= amount {
		return 0, fmt.Errorf("fee %d consumes amount %d: %w", f, amount, dexerr.ErrInvalidParam)
	}
	return f, nil
}

// ValidFeeRatio reports whether r is an acceptable taker/maker ratio.
func ValidFeeRatio(r int64) bool {
	return r >= 0 && r <= FeeRatioMax
}

// Add returns a+b for non-negative operands, failing instead of wrapping.
func Add(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("add operands must be non-negative (a=%d b=%d): %w", a, b, dexerr.ErrInvalidParam)
	}
	if a > math.MaxInt64-b {
		return 0, fmt.Errorf("add %d+%d: %w", a, b, dexerr.ErrOverflow)
	}
	return a + b, nil
}
