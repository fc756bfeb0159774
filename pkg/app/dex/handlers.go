package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
)

func requireSigner(c *callCtx, addr common.Address, role string) error {
	if !c.call.SignedBy(addr) {
		return fmt.Errorf("%s %s did not sign %s: %w", role, addr.Hex(), c.call.Type, dexerr.ErrUnauthorized)
	}
	return nil
}

func (a *App) requireEnabled() error {
	if !a.cfg.Enabled {
		return fmt.Errorf("trading: %w", dexerr.ErrDisabled)
	}
	return nil
}

// ---- pair administration ----

func (a *App) registerPair(c *callCtx, rcpt *Receipt) error {
	if err := requireSigner(c, a.cfg.Admin, "admin"); err != nil {
		return err
	}
	var req transaction.RegisterPair
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	p, created, err := c.pairs.Register(req.Spec, c.g, c.millis())
	if err != nil {
		return err
	}
	rcpt.PairID = p.ID
	a.log.Infow("pair_registered",
		"pair", p.ID,
		"symbol", p.Symbol(),
		"created", created,
		"enabled", p.Enabled,
		"fee_in_quote", p.FeeInQuote)
	return nil
}

func (a *App) setPairEnabled(c *callCtx, rcpt *Receipt) error {
	if err := requireSigner(c, a.cfg.Admin, "admin"); err != nil {
		return err
	}
	var req transaction.SetPairEnabled
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	p, err := c.pairs.SetEnabled(req.PairID, req.Enabled)
	if err != nil {
		return err
	}
	rcpt.PairID = p.ID
	a.log.Infow("pair_enabled_changed", "pair", p.ID, "enabled", p.Enabled)
	return nil
}

func (a *App) removePair(c *callCtx, rcpt *Receipt) error {
	if err := requireSigner(c, a.cfg.Admin, "admin"); err != nil {
		return err
	}
	var req transaction.RemovePair
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	empty, err := orderbook.NewBook(c.tx, req.PairID).Empty()
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("pair %d still has resting orders: %w", req.PairID, dexerr.ErrConflict)
	}
	if err := c.pairs.Remove(req.PairID); err != nil {
		return err
	}
	c.g.RemoveOutstanding(req.PairID)
	rcpt.PairID = req.PairID
	a.log.Infow("pair_removed", "pair", req.PairID)
	return nil
}

// ---- order admission ----

// reserve computes what an order must deposit and the base quantity it
// requests. A MARKET BUY requests no base: quantity is the quote to spend.
func reserve(p *pair.TradingPair, req transaction.SubmitOrder, taker, maker int64) (requested, frozen int64, err error) {
	switch {
	case req.Side == orderbook.Sell:
		if req.Quantity < p.MinBase {
			return 0, 0, fmt.Errorf("quantity %d below pair minimum %d: %w", req.Quantity, p.MinBase, dexerr.ErrInvalidParam)
		}
		if req.Type == orderbook.Limit {
			quote, err := decmath.QuoteFor(req.Quantity, req.Price, p.Base.Precision)
			if err != nil {
				return 0, 0, err
			}
			if quote < p.MinQuote {
				return 0, 0, fmt.Errorf("order value %d below pair minimum %d: %w", quote, p.MinQuote, dexerr.ErrInvalidParam)
			}
		}
		return req.Quantity, req.Quantity, nil

	case req.Type == orderbook.Market:
		if req.Quantity < p.MinQuote {
			return 0, 0, fmt.Errorf("spend %d below pair minimum %d: %w", req.Quantity, p.MinQuote, dexerr.ErrInvalidParam)
		}
		return 0, req.Quantity, nil

	default:
		if req.Quantity < p.MinBase {
			return 0, 0, fmt.Errorf("quantity %d below pair minimum %d: %w", req.Quantity, p.MinBase, dexerr.ErrInvalidParam)
		}
		quote, err := decmath.QuoteFor(req.Quantity, req.Price, p.Base.Precision)
		if err != nil {
			return 0, 0, err
		}
		if quote == 0 || quote < p.MinQuote {
			return 0, 0, fmt.Errorf("order value %d below pair minimum %d: %w", quote, p.MinQuote, dexerr.ErrInvalidParam)
		}
		frozen = quote
		if p.FeeInQuote {
			// Reserve the larger fee: the order's role is unknown until it matches.
			f, err := decmath.Fee(quote, max(taker, maker))
			if err != nil {
				return 0, 0, err
			}
			if frozen, err = decmath.Add(quote, f); err != nil {
				return 0, 0, err
			}
		}
		return req.Quantity, frozen, nil
	}
}

func (a *App) submitOrder(c *callCtx, rcpt *Receipt) error {
	if err := a.requireEnabled(); err != nil {
		return err
	}
	var req transaction.SubmitOrder
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if err := requireSigner(c, req.Owner, "owner"); err != nil {
		return err
	}
	if req.FeeOverride != nil || a.cfg.AdminSignRequired {
		if err := requireSigner(c, a.cfg.Admin, "admin"); err != nil {
			return err
		}
	}

	p, err := c.pairs.Get(req.PairID)
	if err != nil {
		return err
	}
	if !req.Side.Valid() {
		return fmt.Errorf("side %d: %w", req.Side, dexerr.ErrInvalidParam)
	}
	switch req.Type {
	case orderbook.Limit:
		if req.Price <= 0 {
			return fmt.Errorf("limit price must be positive, got %d: %w", req.Price, dexerr.ErrInvalidParam)
		}
	case orderbook.Market:
		req.Price = 0
	default:
		return fmt.Errorf("order type %d: %w", req.Type, dexerr.ErrInvalidParam)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d: %w", req.Quantity, dexerr.ErrInvalidParam)
	}

	taker, maker := p.Fees(a.cfg.TakerFeeRatio, a.cfg.MakerFeeRatio)
	if o := req.FeeOverride; o != nil {
		if !decmath.ValidFeeRatio(o.TakerFeeRatio) || !decmath.ValidFeeRatio(o.MakerFeeRatio) {
			return fmt.Errorf("fee override taker=%d maker=%d exceeds %d: %w",
				o.TakerFeeRatio, o.MakerFeeRatio, decmath.FeeRatioMax, dexerr.ErrInvalidParam)
		}
		taker, maker = o.TakerFeeRatio, o.MakerFeeRatio
	}

	requested, frozen, err := reserve(p, req, taker, maker)
	if err != nil {
		return err
	}
	denom := p.Base
	if req.Side == orderbook.Buy {
		denom = p.Quote
	}

	existing, err := c.tx.GetQueued(req.Owner)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("owner %s already has order %d staged on pair %d: %w",
			req.Owner.Hex(), existing.QueueID, existing.PairID, dexerr.ErrConflict)
	}

	q := &orderbook.QueuedOrder{
		QueueID:       c.g.NextQueueID(),
		ExternalID:    req.ExternalID,
		Owner:         req.Owner,
		PairID:        p.ID,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		RequestedBase: requested,
		FrozenQuant:   frozen,
		FrozenDenom:   denom,
		TakerFeeRatio: taker,
		MakerFeeRatio: maker,
		FeeInQuote:    p.FeeInQuote,
		CreatedAt:     c.millis(),
	}
	if err := c.tx.PutQueued(q); err != nil {
		return err
	}
	rcpt.PairID, rcpt.QueueID = p.ID, q.QueueID
	a.log.Infow("order_staged",
		"queue_id", q.QueueID,
		"owner", q.Owner.Hex(),
		"pair", p.ID,
		"side", q.Side.String(),
		"type", q.Type.String(),
		"price", q.Price,
		"frozen", q.FrozenQuant,
		"denom", denom.Key())
	return nil
}

// confirmDeposit promotes the depositor's staged order when the deposit
// covers its reserve exactly. Any other deposit is sent back.
func (a *App) confirmDeposit(c *callCtx, rcpt *Receipt) error {
	if err := requireSigner(c, a.cfg.Account, "dex account"); err != nil {
		return err
	}
	var req transaction.ConfirmDeposit
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if req.From == a.cfg.Account || req.To != a.cfg.Account {
		return nil
	}
	if req.Amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d: %w", req.Amount, dexerr.ErrInvalidParam)
	}

	bounce := func(reason string) error {
		c.fx.Pay(req.From, req.Denom, req.Amount, "deposit:"+reason, settlement.KindRefund)
		a.log.Infow("deposit_returned",
			"from", req.From.Hex(),
			"denom", req.Denom.Key(),
			"amount", req.Amount,
			"reason", reason)
		return nil
	}

	if !a.cfg.Enabled {
		return bounce("disabled")
	}

	q, err := c.tx.GetQueued(req.From)
	if err != nil {
		return err
	}
	if q == nil || !q.FrozenDenom.Same(req.Denom) || q.FrozenQuant != req.Amount {
		return bounce("unmatched")
	}
	p, err := c.pairs.Get(q.PairID)
	if err != nil {
		return bounce("pair_unavailable")
	}

	o := q.Promote(c.g.NextOrderID(), c.millis())
	if err := c.tx.PutOrder(o); err != nil {
		return err
	}
	if err := c.tx.DeleteQueued(q); err != nil {
		return err
	}
	rcpt.PairID, rcpt.OrderID = p.ID, o.ID
	a.log.Infow("order_admitted",
		"order", o.ID,
		"queue_id", q.QueueID,
		"owner", o.Owner.Hex(),
		"pair", p.ID,
		"side", o.Side.String(),
		"type", o.Type.String(),
		"price", o.Price,
		"frozen", o.FrozenQuant)

	if a.cfg.MaxMatchCount <= 0 {
		return nil
	}
	res, err := a.round(c, p, a.cfg.MaxMatchCount, fmt.Sprintf("oid:%d", o.ID))
	if err != nil {
		return err
	}
	rcpt.Trades, rcpt.Paused = res.Trades, res.Paused
	return nil
}

// ---- matching ----

func (a *App) matchPair(c *callCtx, rcpt *Receipt) error {
	var req transaction.MatchPair
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if err := requireSigner(c, req.Invoker, "invoker"); err != nil {
		return err
	}
	if err := a.requireEnabled(); err != nil {
		return err
	}
	if req.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d: %w", req.MaxSteps, dexerr.ErrInvalidParam)
	}
	p, err := c.pairs.Get(req.PairID)
	if err != nil {
		return err
	}
	res, err := a.round(c, p, req.MaxSteps, req.Note)
	if err != nil {
		return err
	}
	if len(res.Trades) == 0 {
		return fmt.Errorf("pair %d: %w", p.ID, dexerr.ErrNoneMatched)
	}
	rcpt.PairID, rcpt.Trades, rcpt.Paused = p.ID, res.Trades, res.Paused
	return nil
}

func (a *App) matchAll(c *callCtx, rcpt *Receipt) error {
	var req transaction.MatchAll
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if err := requireSigner(c, req.Invoker, "invoker"); err != nil {
		return err
	}
	if err := a.requireEnabled(); err != nil {
		return err
	}
	if req.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d: %w", req.MaxSteps, dexerr.ErrInvalidParam)
	}
	pairs, err := c.pairs.List()
	if err != nil {
		return err
	}

	remaining := req.MaxSteps
	for _, p := range pairs {
		if remaining <= 0 {
			break
		}
		if !p.Enabled {
			continue
		}
		res, err := a.round(c, p, remaining, req.Note)
		if err != nil {
			return err
		}
		remaining -= len(res.Trades)
		rcpt.Trades = append(rcpt.Trades, res.Trades...)
		rcpt.Paused = rcpt.Paused || res.Paused
	}
	if len(rcpt.Trades) == 0 {
		return fmt.Errorf("all pairs: %w", dexerr.ErrNoneMatched)
	}
	return nil
}

// continueMatching resumes paused pairs in id order under one shared
// budget, then settles the armed flag.
func (a *App) continueMatching(c *callCtx, rcpt *Receipt) error {
	if err := requireSigner(c, a.cfg.Account, "dex account"); err != nil {
		return err
	}
	var req transaction.ContinueMatching
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	remaining := req.MaxSteps
	if remaining <= 0 {
		remaining = a.scheduler.MaxSteps
	}

	// While trading is off the pairs stay outstanding and armed, and the
	// continuation goes idle until the next restart.
	if a.cfg.Enabled {
		for _, id := range c.g.OutstandingPairs() {
			if remaining <= 0 {
				break
			}
			p, err := c.pairs.Get(id)
			if err != nil {
				c.g.RemoveOutstanding(id)
				a.log.Infow("continuation_pair_dropped", "pair", id, "err", err)
				continue
			}
			res, err := a.round(c, p, remaining, "continuation")
			if err != nil {
				return err
			}
			remaining -= len(res.Trades)
			rcpt.Trades = append(rcpt.Trades, res.Trades...)
			rcpt.Paused = rcpt.Paused || res.Paused
		}
	}

	if a.scheduler.Settle(c.g, a.cfg.Enabled) {
		d := a.scheduler.Next(c.now)
		c.fx.continuation = &d
	}
	a.log.Infow("continuation_ran",
		"trades", len(rcpt.Trades),
		"outstanding", c.g.OutstandingPairs(),
		"armed", c.g.Armed)
	return nil
}

// ---- cancellation and withdrawal ----

// cancelOrder removes a resting order and returns its unreleased reserve.
// It works while trading or the pair is disabled. A second cancel of the
// same order fails with NotFound and moves nothing.
func (a *App) cancelOrder(c *callCtx, rcpt *Receipt) error {
	var req transaction.CancelOrder
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	o, err := c.tx.GetOrder(req.PairID, req.Side, req.OrderID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("order %d on pair %d: %w", req.OrderID, req.PairID, dexerr.ErrNotFound)
	}
	if err := requireSigner(c, o.Owner, "owner"); err != nil {
		return err
	}
	p, err := c.pairs.Lookup(o.PairID)
	if err != nil {
		return err
	}

	denom := p.Base
	if o.Side == orderbook.Buy {
		denom = p.Quote
	}
	refund := o.Unreleased()
	if refund < 0 {
		return fmt.Errorf("order %d unreleased %d: %w", o.ID, refund, dexerr.ErrInvariantViolation)
	}
	if err := c.tx.DeleteOrder(o); err != nil {
		return err
	}
	c.fx.Pay(o.Owner, denom, refund, fmt.Sprintf("cancel:%d", o.ID), settlement.KindCancel)

	rcpt.PairID, rcpt.OrderID = o.PairID, o.ID
	a.log.Infow("order_cancelled",
		"order", o.ID,
		"owner", o.Owner.Hex(),
		"pair", o.PairID,
		"matched_base", o.MatchedBase,
		"refund", refund)
	return nil
}

// cancelQueued drops the owner's staged order. Nothing was deposited for
// it, so nothing is refunded.
func (a *App) cancelQueued(c *callCtx, rcpt *Receipt) error {
	var req transaction.CancelQueued
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if err := requireSigner(c, req.Owner, "owner"); err != nil {
		return err
	}
	q, err := c.tx.GetQueued(req.Owner)
	if err != nil {
		return err
	}
	if q == nil {
		return fmt.Errorf("staged order of %s: %w", req.Owner.Hex(), dexerr.ErrNotFound)
	}
	if err := c.tx.DeleteQueued(q); err != nil {
		return err
	}
	rcpt.PairID = q.PairID
	a.log.Infow("staged_order_cancelled", "queue_id", q.QueueID, "owner", q.Owner.Hex(), "pair", q.PairID)
	return nil
}

func (a *App) withdrawReward(c *callCtx, rcpt *Receipt) error {
	var req transaction.WithdrawReward
	if err := c.call.Decode(&req); err != nil {
		return err
	}
	if err := requireSigner(c, req.Owner, "owner"); err != nil {
		return err
	}
	if req.Amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive, got %d: %w", req.Amount, dexerr.ErrInvalidParam)
	}
	if err := c.rewards.Debit(req.Owner, req.Denom, req.Amount); err != nil {
		return err
	}
	c.fx.Pay(req.Owner, req.Denom, req.Amount, "reward", settlement.KindWithdraw)
	a.log.Infow("reward_withdrawn", "owner", req.Owner.Hex(), "denom", req.Denom.Key(), "amount", req.Amount)
	return nil
}
