// Package matching runs bounded price-time priority matching rounds over
// one pair's order book.
package matching

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/fee"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
)

// Payouts receives the direct settlement transfers of a round. They are
// released by the caller only after the round's writes commit.
type Payouts interface {
	Pay(to common.Address, d asset.Denom, amount int64, memo, kind string)
}

// TradeLog appends trade records.
type TradeLog interface {
	PutTrade(t *orderbook.Trade) error
}

// IDs allocates trade identifiers.
type IDs interface {
	NextTradeID() uint64
}

// PriceRecorder stores a pair's latest deal price.
type PriceRecorder interface {
	RecordPrice(p *pair.TradingPair, price int64) error
}

// Payout kinds, mirrored by the settlement package.
const (
	KindSettlement = "settlement"
	KindRefund     = "refund"
)

type Engine struct {
	Table   orderbook.Table
	Trades  TradeLog
	Fees    *fee.Allocator
	Payouts Payouts
	IDs     IDs
	Prices  PriceRecorder
	Log     *zap.SugaredLogger
}

type Request struct {
	Pair     *pair.TradingPair
	MaxCount int
	Memo     string
	Now      int64 // unix millis
}

type Result struct {
	PairID uint64
	Trades []*orderbook.Trade
	// Removed lists orders that completed (or were exhausted) this round.
	Removed []*orderbook.Order
	// Paused is set when the step budget ran out while orders still cross.
	Paused      bool
	LatestPrice int64
}

type match struct {
	taker, maker *orderbook.Cursor
}

// Run executes one round. Any error leaves the caller's transaction in an
// undefined state and must discard it.
func (e *Engine) Run(req Request) (*Result, error) {
	p := req.Pair
	if p == nil {
		return nil, fmt.Errorf("round without pair: %w", dexerr.ErrInvalidParam)
	}
	if req.MaxCount <= 0 {
		return nil, fmt.Errorf("step budget must be positive, got %d: %w", req.MaxCount, dexerr.ErrInvalidParam)
	}

	book := orderbook.NewBook(e.Table, p.ID)
	res := &Result{PairID: p.ID}

	for len(res.Trades) < req.MaxCount {
		m, ok, err := selectMatch(book)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := e.step(p, m, req, res); err != nil {
			return nil, err
		}
	}

	// Retiring a spent MARKET BUY is not a trade, so it happens even after
	// the budget is used up and never counts as leftover work.
	for len(res.Trades) == req.MaxCount {
		m, crossing, err := selectMatch(book)
		if err != nil {
			return nil, err
		}
		if !crossing {
			break
		}
		spent, err := e.retireSpent(p, m, req, res)
		if err != nil {
			return nil, err
		}
		if !spent {
			res.Paused = true
			break
		}
	}

	if err := book.Persist(); err != nil {
		return nil, err
	}
	if res.LatestPrice > 0 && e.Prices != nil {
		if err := e.Prices.RecordPrice(p, res.LatestPrice); err != nil {
			return nil, fmt.Errorf("record price of pair %d: %w", p.ID, err)
		}
	}

	if len(res.Trades) > 0 || res.Paused {
		e.logger().Infow("round_finished",
			"pair", p.ID,
			"trades", len(res.Trades),
			"removed", len(res.Removed),
			"paused", res.Paused,
			"latest_price", res.LatestPrice)
	}
	return res, nil
}

func (e *Engine) logger() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

// selectMatch picks the next taker/maker pair without mutating anything.
//
// Market orders come first on each side. Between two market orders the
// earlier one is served against the best limit order opposite it, falling
// back to the later one. Between two limit orders the book must cross and
// the later arrival is the taker.
func selectMatch(book *orderbook.Book) (match, bool, error) {
	bc, err := book.Best(orderbook.Buy)
	if err != nil || bc == nil {
		return match{}, false, err
	}
	sc, err := book.Best(orderbook.Sell)
	if err != nil || sc == nil {
		return match{}, false, err
	}
	b, _ := bc.Order()
	s, _ := sc.Order()

	switch {
	case b.Type == orderbook.Market && s.Type == orderbook.Market:
		first, second := bc, sc
		if s.ID < b.ID {
			first, second = sc, bc
		}
		for _, c := range []*orderbook.Cursor{first, second} {
			lc, err := book.BestLimit(c.Side().Opposite())
			if err != nil {
				return match{}, false, err
			}
			if lc != nil {
				return match{taker: c, maker: lc}, true, nil
			}
		}
		return match{}, false, nil

	case b.Type == orderbook.Market:
		return match{taker: bc, maker: sc}, true, nil

	case s.Type == orderbook.Market:
		return match{taker: sc, maker: bc}, true, nil

	default:
		if b.Price < s.Price {
			return match{}, false, nil
		}
		if b.ID > s.ID {
			return match{taker: bc, maker: sc}, true, nil
		}
		return match{taker: sc, maker: bc}, true, nil
	}
}

// capacity is the base the order can still take at price. For a MARKET BUY
// it is recomputed from the unspent reserve, setting aside the quote fee
// the order will owe as taker.
func capacity(o *orderbook.Order, price int64, basePrecision uint8) (int64, error) {
	if !o.Unbounded() {
		return o.RemainingBase(), nil
	}
	spendable := o.FrozenQuant - o.QuoteSpent()
	if spendable <= 0 {
		return 0, nil
	}
	if o.FeeInQuote {
		var err error
		spendable, err = decmath.MulDiv(spendable, decmath.RatioPrecision, decmath.RatioPrecision+o.TakerFeeRatio)
		if err != nil {
			return 0, err
		}
	}
	return decmath.BaseFor(spendable, price, basePrecision)
}

func (e *Engine) step(p *pair.TradingPair, m match, req Request, res *Result) error {
	taker, _ := m.taker.Order()
	maker, _ := m.maker.Order()
	price := maker.Price

	if spent, err := e.retireSpent(p, m, req, res); err != nil || spent {
		return err
	}
	takerCap, err := capacity(taker, price, p.Base.Precision)
	if err != nil {
		return fmt.Errorf("capacity of order %d: %w", taker.ID, err)
	}
	makerCap, err := capacity(maker, price, p.Base.Precision)
	if err != nil {
		return fmt.Errorf("capacity of order %d: %w", maker.ID, err)
	}

	base := min(takerCap, makerCap)
	quote, err := decmath.QuoteFor(base, price, p.Base.Precision)
	if err != nil {
		return fmt.Errorf("quote for %d base at %d: %w", base, price, err)
	}
	if base == 0 && quote == 0 {
		return fmt.Errorf("orders %d/%d matched nothing: %w", taker.ID, maker.ID, dexerr.ErrInvalidMatch)
	}

	buyC, sellC := m.taker, m.maker
	if taker.Side == orderbook.Sell {
		buyC, sellC = m.maker, m.taker
	}
	buy, _ := buyC.Order()
	sell, _ := sellC.Order()

	charges, err := fee.Compute(buy, sell, taker.Side, base, quote)
	if err != nil {
		return err
	}

	tradeID := e.IDs.NextTradeID()
	if err := buyC.ApplyFill(orderbook.Fill{TradeID: tradeID, Base: base, Quote: quote, Fee: charges.BuyFee, Time: req.Now}); err != nil {
		return err
	}
	if err := sellC.ApplyFill(orderbook.Fill{TradeID: tradeID, Base: base, Quote: quote, Fee: charges.SellFee, Time: req.Now}); err != nil {
		return err
	}

	// A market buy that could not clear the maker has bought all it can
	// at this price; any remainder is rounding dust.
	if taker.Unbounded() && !m.maker.Complete() {
		m.taker.MarkExhausted()
	}
	if !m.taker.Complete() && !m.maker.Complete() {
		return fmt.Errorf("orders %d and %d both rest after trade %d: %w", taker.ID, maker.ID, tradeID, dexerr.ErrInvariantViolation)
	}

	buyFeeDenom := p.Base
	if charges.BuyFeeInQuote {
		buyFeeDenom = p.Quote
	}
	if _, err := e.Fees.Allot(buy.Owner, buyFeeDenom, charges.BuyFee); err != nil {
		return fmt.Errorf("allot buy fee of trade %d: %w", tradeID, err)
	}
	if _, err := e.Fees.Allot(sell.Owner, p.Quote, charges.SellFee); err != nil {
		return fmt.Errorf("allot sell fee of trade %d: %w", tradeID, err)
	}

	memo := fmt.Sprintf("trade:%d", tradeID)
	e.pay(sell.Owner, p.Quote, charges.SellerNet, memo, KindSettlement)
	e.pay(buy.Owner, p.Base, charges.BuyerNet, memo, KindSettlement)

	trade := &orderbook.Trade{
		ID:            tradeID,
		PairID:        p.ID,
		BuyOrderID:    buy.ID,
		SellOrderID:   sell.ID,
		Buyer:         buy.Owner,
		Seller:        sell.Owner,
		Base:          base,
		Quote:         quote,
		Price:         price,
		TakerSide:     taker.Side,
		BuyFee:        charges.BuyFee,
		BuyFeeInQuote: charges.BuyFeeInQuote,
		SellFee:       charges.SellFee,
		Memo:          req.Memo,
		Time:          req.Now,
	}
	if buyC.Complete() {
		trade.BuyRefund = buy.Unreleased()
	}

	if err := e.Trades.PutTrade(trade); err != nil {
		return fmt.Errorf("record trade %d: %w", tradeID, err)
	}
	res.Trades = append(res.Trades, trade)
	res.LatestPrice = price

	if err := e.retire(p, m.taker, req, res); err != nil {
		return err
	}
	return e.retire(p, m.maker, req, res)
}

// retireSpent retires a MARKET BUY taker that can buy nothing at the
// maker's price and releases its reserve. It reports whether it did.
func (e *Engine) retireSpent(p *pair.TradingPair, m match, req Request, res *Result) (bool, error) {
	taker, _ := m.taker.Order()
	if !taker.Unbounded() {
		return false, nil
	}
	maker, _ := m.maker.Order()
	n, err := capacity(taker, maker.Price, p.Base.Precision)
	if err != nil {
		return false, fmt.Errorf("capacity of order %d: %w", taker.ID, err)
	}
	if n > 0 {
		return false, nil
	}
	m.taker.MarkExhausted()
	return true, e.retire(p, m.taker, req, res)
}

// retire removes a complete order and returns its unused reserve.
func (e *Engine) retire(p *pair.TradingPair, c *orderbook.Cursor, req Request, res *Result) error {
	if !c.Complete() {
		return nil
	}
	o, _ := c.Order()
	if left := o.Unreleased(); left > 0 {
		d := p.Base
		if o.Side == orderbook.Buy {
			d = p.Quote
		}
		e.pay(o.Owner, d, left, fmt.Sprintf("oid:%d", o.ID), KindRefund)
	} else if left < 0 {
		return fmt.Errorf("order %d over-spent its reserve by %d: %w", o.ID, -left, dexerr.ErrInvariantViolation)
	}

	removed, err := c.AdvancePastComplete()
	if err != nil {
		return err
	}
	res.Removed = append(res.Removed, removed)
	return nil
}

func (e *Engine) pay(to common.Address, d asset.Denom, amount int64, memo, kind string) {
	if amount <= 0 || e.Payouts == nil {
		return
	}
	e.Payouts.Pay(to, d, amount, memo, kind)
}
