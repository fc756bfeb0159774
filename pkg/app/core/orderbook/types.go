package orderbook

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

type Side uint8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(v) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q: %w", v, dexerr.ErrInvalidParam)
}

type OrderType uint8

const (
	Limit  OrderType = 1
	Market OrderType = 2
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return fmt.Sprintf("OrderType(%d)", uint8(t))
	}
}

// ParseOrderType accepts "limit"/"market" in any case.
func ParseOrderType(v string) (OrderType, error) {
	switch strings.ToUpper(v) {
	case "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	}
	return 0, fmt.Errorf("unknown order type %q: %w", v, dexerr.ErrInvalidParam)
}

// Order is a resting order with its partial-fill progress.
//
// FrozenQuant is quote for BUY and base for SELL and never changes after
// admission. A MARKET BUY has RequestedBase == 0: it is bounded by its
// quote reserve instead of a base quantity.
type Order struct {
	ID         uint64         `json:"id"`
	ExternalID string         `json:"external_id"`
	Owner      common.Address `json:"owner"`
	PairID     uint64         `json:"pair_id"`
	Side       Side           `json:"side"`
	Type       OrderType      `json:"type"`
	Price      int64          `json:"price"`

	RequestedBase int64 `json:"requested_base"`
	FrozenQuant   int64 `json:"frozen_quant"`

	TakerFeeRatio int64 `json:"taker_fee_ratio"`
	MakerFeeRatio int64 `json:"maker_fee_ratio"`
	FeeInQuote    bool  `json:"fee_in_quote"`

	MatchedBase  int64  `json:"matched_base"`
	MatchedQuote int64  `json:"matched_quote"`
	MatchedFee   int64  `json:"matched_fee"`
	LastTradeID  uint64 `json:"last_trade_id"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// PriceKey maps the order onto the shared ascending match order. Market
// orders sort ahead of every limit order on both sides.
func (o *Order) PriceKey() uint64 {
	if o.Type == Market {
		return 0
	}
	if o.Side == Buy {
		return math.MaxUint64 - uint64(o.Price)
	}
	return uint64(o.Price)
}

// Unbounded reports whether the order has no base limit (MARKET BUY).
func (o *Order) Unbounded() bool {
	return o.Type == Market && o.Side == Buy
}

// FeeChargedInQuote reports whether this order's own fee is denominated
// in quote. Sellers always pay in quote; buyers only on quote-fee pairs.
func (o *Order) FeeChargedInQuote() bool {
	return o.Side == Sell || o.FeeInQuote
}

// QuoteSpent is the part of a BUY reserve already consumed.
func (o *Order) QuoteSpent() int64 {
	if o.Side != Buy {
		return 0
	}
	if o.FeeInQuote {
		return o.MatchedQuote + o.MatchedFee
	}
	return o.MatchedQuote
}

// RemainingBase is the unmatched base of a bounded order.
func (o *Order) RemainingBase() int64 {
	if o.Unbounded() {
		return 0
	}
	return o.RequestedBase - o.MatchedBase
}

// Unreleased returns what a cancellation or completion hands back to the
// owner, in the denomination of FrozenQuant.
func (o *Order) Unreleased() int64 {
	if o.Side == Buy {
		return o.FrozenQuant - o.QuoteSpent()
	}
	return o.FrozenQuant - o.MatchedBase
}

// IsComplete reports whether a bounded order is fully matched. Exhaustion
// of an unbounded order is decided by the matching engine.
func (o *Order) IsComplete() bool {
	return !o.Unbounded() && o.MatchedBase == o.RequestedBase
}

// Fill is one trade's contribution to an order.
type Fill struct {
	TradeID uint64
	Base    int64
	Quote   int64
	Fee     int64
	Time    int64
}

// ApplyFill adds a fill to the cumulative totals, rejecting any fill that
// would break conservation of the order's reserve.
func (o *Order) ApplyFill(f Fill) error {
	if f.Base < 0 || f.Quote < 0 || f.Fee < 0 {
		return fmt.Errorf("order %d: negative fill %+v: %w", o.ID, f, dexerr.ErrInvalidParam)
	}

	base, err := decmath.Add(o.MatchedBase, f.Base)
	if err != nil {
		return fmt.Errorf("order %d matched base: %w", o.ID, err)
	}
	quote, err := decmath.Add(o.MatchedQuote, f.Quote)
	if err != nil {
		return fmt.Errorf("order %d matched quote: %w", o.ID, err)
	}
	fee, err := decmath.Add(o.MatchedFee, f.Fee)
	if err != nil {
		return fmt.Errorf("order %d matched fee: %w", o.ID, err)
	}

	if !o.Unbounded() && base > o.RequestedBase {
		return fmt.Errorf("order %d matched base %d exceeds requested %d: %w", o.ID, base, o.RequestedBase, dexerr.ErrOverflow)
	}
	if o.Side == Buy {
		spent := quote
		if o.FeeInQuote {
			if spent, err = decmath.Add(quote, fee); err != nil {
				return fmt.Errorf("order %d spent quote: %w", o.ID, err)
			}
		}
		if spent > o.FrozenQuant {
			return fmt.Errorf("order %d spent quote %d exceeds frozen %d: %w", o.ID, spent, o.FrozenQuant, dexerr.ErrOverflow)
		}
	}

	o.MatchedBase, o.MatchedQuote, o.MatchedFee = base, quote, fee
	o.LastTradeID = f.TradeID
	o.UpdatedAt = f.Time
	return nil
}

// QueuedOrder is an order staged until its reserve is deposited. Each owner
// may stage one order at a time.
type QueuedOrder struct {
	QueueID    uint64         `json:"queue_id"`
	ExternalID string         `json:"external_id"`
	Owner      common.Address `json:"owner"`
	PairID     uint64         `json:"pair_id"`
	Side       Side           `json:"side"`
	Type       OrderType      `json:"type"`
	Price      int64          `json:"price"`

	RequestedBase int64       `json:"requested_base"`
	FrozenQuant   int64       `json:"frozen_quant"`
	FrozenDenom   asset.Denom `json:"frozen_denom"`

	TakerFeeRatio int64 `json:"taker_fee_ratio"`
	MakerFeeRatio int64 `json:"maker_fee_ratio"`
	FeeInQuote    bool  `json:"fee_in_quote"`

	CreatedAt int64 `json:"created_at"`
}

// Promote turns the staged order into a resting order with the given id.
func (q *QueuedOrder) Promote(id uint64, now int64) *Order {
	return &Order{
		ID:            id,
		ExternalID:    q.ExternalID,
		Owner:         q.Owner,
		PairID:        q.PairID,
		Side:          q.Side,
		Type:          q.Type,
		Price:         q.Price,
		RequestedBase: q.RequestedBase,
		FrozenQuant:   q.FrozenQuant,
		TakerFeeRatio: q.TakerFeeRatio,
		MakerFeeRatio: q.MakerFeeRatio,
		FeeInQuote:    q.FeeInQuote,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Trade is the immutable record of one match. Price is the maker's price.
type Trade struct {
	ID          uint64         `json:"id"`
	PairID      uint64         `json:"pair_id"`
	BuyOrderID  uint64         `json:"buy_order_id"`
	SellOrderID uint64         `json:"sell_order_id"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	Base        int64          `json:"base"`
	Quote       int64          `json:"quote"`
	Price       int64          `json:"price"`
	TakerSide   Side           `json:"taker_side"`

	// BuyFee is in quote when BuyFeeInQuote, otherwise in base.
	BuyFee        int64 `json:"buy_fee"`
	BuyFeeInQuote bool  `json:"buy_fee_in_quote"`
	SellFee       int64 `json:"sell_fee"`
	BuyRefund     int64 `json:"buy_refund"`

	Memo string `json:"memo"`
	Time int64  `json:"time"`
}

// PriceLevel aggregates resting limit quantity at one price.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Base   int64 `json:"base"`
	Orders int   `json:"orders"`
}
