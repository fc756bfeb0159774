package dex

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/continuation"
	"github.com/uhyunpark/hyperdex/pkg/app/core/fee"
	"github.com/uhyunpark/hyperdex/pkg/app/core/global"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

// effects collects what a call does outside the store. Nothing here runs
// until the call's transaction has committed.
type effects struct {
	from         common.Address
	transfers    []settlement.Transfer
	trades       []*orderbook.Trade
	continuation *continuation.Dispatch
}

// Pay implements matching.Payouts.
func (e *effects) Pay(to common.Address, d asset.Denom, amount int64, memo, kind string) {
	if amount <= 0 {
		return
	}
	e.transfers = append(e.transfers, settlement.Transfer{
		From:   e.from,
		To:     to,
		Denom:  d,
		Amount: amount,
		Memo:   memo,
		Kind:   kind,
	})
}

var _ matching.Payouts = (*effects)(nil)

// callCtx is everything one call reads and writes.
type callCtx struct {
	call    *transaction.Call
	tx      *storage.Txn
	g       *global.State
	now     time.Time
	fx      *effects
	pairs   *pair.Registry
	rewards *account.Ledger
}

func (a *App) newCallCtx(c *transaction.Call, tx *storage.Txn, g *global.State, now time.Time) *callCtx {
	return &callCtx{
		call:    c,
		tx:      tx,
		g:       g,
		now:     now,
		fx:      &effects{from: a.cfg.Account},
		pairs:   pair.NewRegistry(tx),
		rewards: account.NewLedger(tx),
	}
}

func (c *callCtx) millis() int64 { return c.now.UnixMilli() }

func (a *App) allocator(rewards fee.Ledger) *fee.Allocator {
	return &fee.Allocator{
		Collector:   a.cfg.FeeCollector,
		Root:        a.cfg.RootAccount,
		ParentRatio: a.cfg.ParentRewardRatio,
		GrandRatio:  a.cfg.GrandRewardRatio,
		Directory:   a.directory,
		Ledger:      rewards,
	}
}

func (a *App) engine(c *callCtx) *matching.Engine {
	return &matching.Engine{
		Table:   c.tx,
		Trades:  c.tx,
		Fees:    a.allocator(c.rewards),
		Payouts: c.fx,
		IDs:     c.g,
		Prices:  c.pairs,
		Log:     a.log,
	}
}

// round runs one bounded round on p and records its outcome with the
// continuation scheduler.
func (a *App) round(c *callCtx, p *pair.TradingPair, maxCount int, memo string) (*matching.Result, error) {
	res, err := a.engine(c).Run(matching.Request{
		Pair:     p,
		MaxCount: maxCount,
		Memo:     memo,
		Now:      c.millis(),
	})
	if err != nil {
		return nil, err
	}
	c.fx.trades = append(c.fx.trades, res.Trades...)
	if a.scheduler.Track(c.g, p.ID, res.Paused) {
		d := a.scheduler.Next(c.now)
		c.fx.continuation = &d
	}
	return res, nil
}
