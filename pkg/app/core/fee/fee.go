// Package fee computes per-trade taker/maker fees and routes each fee to
// the referral chain and the fee collector.
package fee

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// RatioFor returns the ratio an order pays in a trade whose taker is on
// the given side.
func RatioFor(o *orderbook.Order, taker orderbook.Side) int64 {
	if o.Side == taker {
		return o.TakerFeeRatio
	}
	return o.MakerFeeRatio
}

// Charges are the fees and net receipts of one trade.
type Charges struct {
	SellFee   int64 // quote
	SellerNet int64 // quote

	BuyFee        int64 // quote if BuyFeeInQuote, else base
	BuyFeeInQuote bool
	BuyerNet      int64 // base
}

// Compute derives both sides' fees for a trade of base against quote.
// The seller always pays on the quote it receives. The buyer pays on quote
// (drawn from its reserve) when its order was admitted on a quote-fee pair,
// otherwise on the base it receives.
func Compute(buy, sell *orderbook.Order, taker orderbook.Side, base, quote int64) (Charges, error) {
	var c Charges
	var err error

	if c.SellFee, err = decmath.Fee(quote, RatioFor(sell, taker)); err != nil {
		return Charges{}, fmt.Errorf("sell fee of order %d: %w", sell.ID, err)
	}
	c.SellerNet = quote - c.SellFee

	c.BuyFeeInQuote = buy.FeeInQuote
	if buy.FeeInQuote {
		if c.BuyFee, err = decmath.Fee(quote, RatioFor(buy, taker)); err != nil {
			return Charges{}, fmt.Errorf("buy fee of order %d: %w", buy.ID, err)
		}
		c.BuyerNet = base
	} else {
		if c.BuyFee, err = decmath.Fee(base, RatioFor(buy, taker)); err != nil {
			return Charges{}, fmt.Errorf("buy fee of order %d: %w", buy.ID, err)
		}
		c.BuyerNet = base - c.BuyFee
	}
	return c, nil
}

// Ledger accrues routed fee shares.
type Ledger interface {
	Credit(owner common.Address, d asset.Denom, amount int64) error
}

// Share roles.
const (
	RoleParent    = "parent"
	RoleGrand     = "grand"
	RoleCollector = "collector"
)

type Share struct {
	Account common.Address `json:"account"`
	Amount  int64          `json:"amount"`
	Role    string         `json:"role"`
}

// Split is how one fee was divided.
type Split struct {
	Payer  common.Address `json:"payer"`
	Denom  asset.Denom    `json:"denom"`
	Fee    int64          `json:"fee"`
	Shares []Share        `json:"shares"`
}

// Total sums the routed shares; it always equals Fee.
func (s Split) Total() int64 {
	var t int64
	for _, sh := range s.Shares {
		t += sh.Amount
	}
	return t
}

// Allocator splits fees among the payer's referrer, the referrer's own
// referrer and the fee collector, accruing every share to the Ledger.
type Allocator struct {
	Collector   common.Address
	Root        common.Address // referral chains stop at this account
	ParentRatio int64
	GrandRatio  int64
	Directory   account.Directory
	Ledger      Ledger
}

// Validate checks that the referral ratios leave a non-negative remainder.
func (a *Allocator) Validate() error {
	if a.ParentRatio < 0 || a.GrandRatio < 0 {
		return fmt.Errorf("referral ratios must be non-negative: %w", dexerr.ErrInvalidParam)
	}
	if a.ParentRatio+a.GrandRatio > decmath.RatioPrecision {
		return fmt.Errorf("parent %d + grand %d exceeds %d: %w",
			a.ParentRatio, a.GrandRatio, decmath.RatioPrecision, dexerr.ErrInvalidParam)
	}
	return nil
}

func (a *Allocator) referrer(addr common.Address) (common.Address, bool) {
	if a.Directory == nil {
		return common.Address{}, false
	}
	ref, ok := a.Directory.ReferrerOf(addr)
	if !ok || ref == a.Root || ref == (common.Address{}) {
		return common.Address{}, false
	}
	return ref, true
}

// Allot routes fee paid by payer. Both referral shares are computed from
// the original fee; the collector receives whatever remains.
func (a *Allocator) Allot(payer common.Address, d asset.Denom, fee int64) (Split, error) {
	split := Split{Payer: payer, Denom: d, Fee: fee}
	if fee == 0 {
		return split, nil
	}
	if fee < 0 {
		return Split{}, fmt.Errorf("negative fee %d: %w", fee, dexerr.ErrInvalidParam)
	}

	remaining := fee
	if a.ParentRatio > 0 {
		if parent, ok := a.referrer(payer); ok {
			amt, err := decmath.MulDiv(fee, a.ParentRatio, decmath.RatioPrecision)
			if err != nil {
				return Split{}, err
			}
			if amt > 0 {
				split.Shares = append(split.Shares, Share{Account: parent, Amount: amt, Role: RoleParent})
				remaining -= amt
			}

			if a.GrandRatio > 0 {
				if grand, ok := a.referrer(parent); ok {
					amt, err := decmath.MulDiv(fee, a.GrandRatio, decmath.RatioPrecision)
					if err != nil {
						return Split{}, err
					}
					if amt > 0 {
						split.Shares = append(split.Shares, Share{Account: grand, Amount: amt, Role: RoleGrand})
						remaining -= amt
					}
				}
			}
		}
	}

	if remaining < 0 {
		return Split{}, fmt.Errorf("fee %d over-allocated by %d: %w", fee, -remaining, dexerr.ErrInvariantViolation)
	}
	if remaining > 0 {
		split.Shares = append(split.Shares, Share{Account: a.Collector, Amount: remaining, Role: RoleCollector})
	}

	for _, sh := range split.Shares {
		if err := a.Ledger.Credit(sh.Account, d, sh.Amount); err != nil {
			return Split{}, fmt.Errorf("credit %s share to %s: %w", sh.Role, sh.Account.Hex(), err)
		}
	}
	return split, nil
}
