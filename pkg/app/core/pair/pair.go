package pair

import (
	"fmt"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// TradingPair is a tradable combination of a base and a quote denomination.
// Prices are quote units per whole base unit, so price precision equals the
// quote precision.
type TradingPair struct {
	ID    uint64      `json:"id"`
	Base  asset.Denom `json:"base"`
	Quote asset.Denom `json:"quote"`

	// Orders below these quantities are rejected at submission.
	MinBase  int64 `json:"min_base"`
	MinQuote int64 `json:"min_quote"`

	// Per-pair overrides in RatioPrecision units; zero falls back to the
	// exchange-wide defaults.
	TakerFeeRatio int64 `json:"taker_fee_ratio"`
	MakerFeeRatio int64 `json:"maker_fee_ratio"`

	// FeeInQuote charges the buyer's fee in quote out of the frozen reserve.
	// Otherwise the buyer's fee is deducted from the base it receives.
	FeeInQuote bool `json:"fee_in_quote"`

	LatestPrice int64 `json:"latest_price"`
	Enabled     bool  `json:"enabled"`
	CreatedAt   int64 `json:"created_at"`
}

// Symbol returns a display name like "EOS/USDT".
func (p *TradingPair) Symbol() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// Fees resolves the effective taker/maker ratios against the defaults.
func (p *TradingPair) Fees(defaultTaker, defaultMaker int64) (taker, maker int64) {
	taker, maker = defaultTaker, defaultMaker
	if p.TakerFeeRatio > 0 {
		taker = p.TakerFeeRatio
	}
	if p.MakerFeeRatio > 0 {
		maker = p.MakerFeeRatio
	}
	return taker, maker
}

// Spec carries the administrative parameters of a pair.
type Spec struct {
	Base          asset.Denom `json:"base"`
	Quote         asset.Denom `json:"quote"`
	MinBase       int64       `json:"min_base"`
	MinQuote      int64       `json:"min_quote"`
	TakerFeeRatio int64       `json:"taker_fee_ratio"`
	MakerFeeRatio int64       `json:"maker_fee_ratio"`
	FeeInQuote    bool        `json:"fee_in_quote"`
	Enabled       bool        `json:"enabled"`
}

// Validate checks denominations, minimums and fee overrides.
func (s Spec) Validate() error {
	if err := s.Base.Validate(); err != nil {
		return fmt.Errorf("base: %w", err)
	}
	if err := s.Quote.Validate(); err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	if s.Base.Same(s.Quote) || s.Base.Symbol == s.Quote.Symbol {
		return fmt.Errorf("base and quote must differ (%s): %w", s.Base.Symbol, dexerr.ErrInvalidParam)
	}
	if s.MinBase < 0 || s.MinQuote < 0 {
		return fmt.Errorf("minimum quantities must be non-negative: %w", dexerr.ErrInvalidParam)
	}
	if !decmath.ValidFeeRatio(s.TakerFeeRatio) || !decmath.ValidFeeRatio(s.MakerFeeRatio) {
		return fmt.Errorf("fee ratio override out of range [0,%d]: %w", decmath.FeeRatioMax, dexerr.ErrInvalidParam)
	}
	return nil
}
