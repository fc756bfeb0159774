package dex_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/abci"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

var (
	eos  = asset.Denom{Issuer: common.HexToAddress("0xe05"), Symbol: "EOS", Precision: 4}
	usdt = asset.Denom{Issuer: common.HexToAddress("0x05d7"), Symbol: "USDT", Precision: 4}

	buyer    = common.HexToAddress("0xb1")
	seller   = common.HexToAddress("0x51")
	stranger = common.HexToAddress("0x99")
)

// testClock follows the fixture's block time.
type testClock struct{ now *time.Time }

func (c testClock) Now() time.Time                         { return *c.now }
func (c testClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type fixture struct {
	t      *testing.T
	cfg    params.Dex
	store  storage.Store
	bank   *settlement.MemoryBank
	app    *dex.App
	pairID uint64
	height int64
	now    time.Time
	seq    int
}

func newFixture(t *testing.T, mutate func(*params.Dex)) *fixture {
	t.Helper()
	cfg := params.Default().Dex
	cfg.TakerFeeRatio, cfg.MakerFeeRatio = 0, 0
	cfg.DeferredMatching = 0
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		t:     t,
		cfg:   cfg,
		store: storage.NewMemStore(),
		bank:  settlement.NewMemoryBank(),
		now:   time.UnixMilli(1_700_000_000_000),
	}
	f.app = f.newApp()

	rcpt, err := f.apply(transaction.TypeRegisterPair, transaction.RegisterPair{Spec: pair.Spec{
		Base:    eos,
		Quote:   usdt,
		Enabled: true,
	}}, cfg.Admin)
	require.NoError(t, err)
	f.pairID = rcpt.PairID

	require.NoError(t, f.bank.Mint(seller, eos, 1_000_000))
	require.NoError(t, f.bank.Mint(buyer, usdt, 1_000_000))
	return f
}

func (f *fixture) newApp() *dex.App {
	app, err := dex.New(dex.Options{
		Config: f.cfg,
		Store:  f.store,
		Bank:   f.bank,
		Clock:  testClock{now: &f.now},
	})
	require.NoError(f.t, err)
	app.WatchDeposits(f.bank)
	return app
}

func (f *fixture) call(typ transaction.CallType, payload any, signers ...common.Address) *transaction.Call {
	f.seq++
	c, err := transaction.New(fmt.Sprintf("call-%d", f.seq), typ, signers, payload)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) apply(typ transaction.CallType, payload any, signers ...common.Address) (*dex.Receipt, error) {
	return f.app.Apply(f.call(typ, payload, signers...), f.now)
}

func (f *fixture) block() abci.ResponseFinalizeBlock {
	f.height++
	f.now = f.now.Add(time.Second)
	prep := f.app.PrepareProposal(abci.RequestPrepareProposal{Height: f.height, Timestamp: f.now.UnixMilli(), MaxTxBytes: 1 << 20})
	return f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: f.height, Timestamp: f.now.UnixMilli(), Txs: prep.Txs})
}

// stage submits an order and returns its queue id.
func (f *fixture) stage(owner common.Address, side orderbook.Side, typ orderbook.OrderType, qty, price int64) uint64 {
	f.t.Helper()
	rcpt, err := f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner:    owner,
		PairID:   f.pairID,
		Side:     side,
		Type:     typ,
		Quantity: qty,
		Price:    price,
	}, owner)
	require.NoError(f.t, err)
	return rcpt.QueueID
}

// deposit sends funds to custody and runs the block carrying the
// resulting confirm_deposit call.
func (f *fixture) deposit(from common.Address, d asset.Denom, amount int64) abci.TxResult {
	f.t.Helper()
	require.NoError(f.t, f.bank.Transfer(context.Background(), settlement.Transfer{
		From: from, To: f.cfg.Account, Denom: d, Amount: amount, Kind: settlement.KindDeposit,
	}))
	res := f.block()
	require.Len(f.t, res.TxResults, 1)
	return res.TxResults[0]
}

func TestApp_DepositAdmitsAndMatches(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	res := f.deposit(seller, eos, 10000)
	assert.Equal(t, "ok", res.Code)
	assert.Equal(t, 0, res.Trades)

	bids, asks, err := f.app.Depth(f.pairID, 0)
	require.NoError(t, err)
	assert.Empty(t, bids)
	assert.Equal(t, []orderbook.PriceLevel{{Price: 20000, Base: 10000, Orders: 1}}, asks)

	// 1 EOS at 2 USDT
	f.stage(buyer, orderbook.Buy, orderbook.Limit, 10000, 20000)
	res = f.deposit(buyer, usdt, 20000)
	assert.Equal(t, "ok", res.Code)
	assert.Equal(t, 1, res.Trades)

	assert.Equal(t, int64(10000), f.bank.BalanceOf(buyer, eos))
	assert.Equal(t, int64(20000), f.bank.BalanceOf(seller, usdt))
	assert.Zero(t, f.bank.BalanceOf(f.cfg.Account, eos))
	assert.Zero(t, f.bank.BalanceOf(f.cfg.Account, usdt))

	p, err := f.app.Pair(f.pairID)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), p.LatestPrice)

	trades, err := f.app.RecentTrades(f.pairID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(20000), trades[0].Price)
	assert.Equal(t, orderbook.Buy, trades[0].TakerSide)

	queued, err := f.app.Queued(buyer)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestApp_SubmitAndDepositInOneBlock(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.app.Submit(f.call(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: seller, PairID: f.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
	}, seller)))
	require.NoError(t, f.bank.Transfer(context.Background(), settlement.Transfer{
		From: seller, To: f.cfg.Account, Denom: eos, Amount: 10000, Kind: settlement.KindDeposit,
	}))

	res := f.block()
	require.Len(t, res.TxResults, 2)
	for i, r := range res.TxResults {
		assert.Equal(t, "ok", r.Code, "tx %d: %s", i, r.Log)
	}

	queued, err := f.app.Queued(seller)
	require.NoError(t, err)
	assert.Empty(t, queued)
	assert.Equal(t, int64(10000), f.bank.BalanceOf(f.cfg.Account, eos))
	_, asks, err := f.app.Depth(f.pairID, 0)
	require.NoError(t, err)
	assert.Equal(t, []orderbook.PriceLevel{{Price: 20000, Base: 10000, Orders: 1}}, asks)

	// A cancel queued behind the order it drops runs after it.
	require.NoError(t, f.app.Submit(f.call(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: buyer, PairID: f.pairID, Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 10000, Price: 10000,
	}, buyer)))
	require.NoError(t, f.app.Submit(f.call(transaction.TypeCancelQueued, transaction.CancelQueued{Owner: buyer}, buyer)))

	res = f.block()
	require.Len(t, res.TxResults, 2)
	for i, r := range res.TxResults {
		assert.Equal(t, "ok", r.Code, "tx %d: %s", i, r.Log)
	}
	queued, err = f.app.Queued(buyer)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestApp_Authorization(t *testing.T) {
	f := newFixture(t, nil)

	order := transaction.SubmitOrder{Owner: seller, PairID: f.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000}

	tests := []struct {
		name    string
		typ     transaction.CallType
		payload any
		signers []common.Address
	}{
		{"order not signed by owner", transaction.TypeSubmitOrder, order, []common.Address{stranger}},
		{"fee override without admin", transaction.TypeSubmitOrder, transaction.SubmitOrder{
			Owner: seller, PairID: f.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
			FeeOverride: &transaction.FeeOverride{TakerFeeRatio: 1, MakerFeeRatio: 1},
		}, []common.Address{seller}},
		{"pair registration by non-admin", transaction.TypeRegisterPair, transaction.RegisterPair{Spec: pair.Spec{Base: usdt, Quote: eos}}, []common.Address{stranger}},
		{"deposit notice not from dex account", transaction.TypeConfirmDeposit, transaction.ConfirmDeposit{From: seller, To: f.cfg.Account, Denom: eos, Amount: 1}, []common.Address{seller}},
		{"continuation not from dex account", transaction.TypeContinueMatching, transaction.ContinueMatching{MaxSteps: 1}, []common.Address{stranger}},
		{"match not signed by invoker", transaction.TypeMatchPair, transaction.MatchPair{Invoker: seller, PairID: f.pairID, MaxSteps: 1}, []common.Address{stranger}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.apply(tt.typ, tt.payload, tt.signers...)
			assert.True(t, errors.Is(err, dexerr.ErrUnauthorized), "got %v", err)
		})
	}

	t.Run("admin co-signature required", func(t *testing.T) {
		g := newFixture(t, func(c *params.Dex) { c.AdminSignRequired = true })
		_, err := g.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
			Owner: seller, PairID: g.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
		}, seller)
		assert.True(t, errors.Is(err, dexerr.ErrUnauthorized))

		_, err = g.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
			Owner: seller, PairID: g.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
		}, seller, g.cfg.Admin)
		assert.NoError(t, err)
	})
}

func TestApp_SubmitValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name  string
		order transaction.SubmitOrder
		want  error
	}{
		{"unknown pair", transaction.SubmitOrder{PairID: 42, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 1, Price: 1}, dexerr.ErrNotFound},
		{"bad side", transaction.SubmitOrder{Side: 7, Type: orderbook.Limit, Quantity: 1, Price: 1}, dexerr.ErrInvalidParam},
		{"zero price limit", transaction.SubmitOrder{Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 10000}, dexerr.ErrInvalidParam},
		{"zero quantity", transaction.SubmitOrder{Side: orderbook.Sell, Type: orderbook.Market}, dexerr.ErrInvalidParam},
		{"buy worth nothing", transaction.SubmitOrder{Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 1, Price: 1}, dexerr.ErrInvalidParam},
		{"override above max", transaction.SubmitOrder{Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 1, Price: 1,
			FeeOverride: &transaction.FeeOverride{TakerFeeRatio: 5000}}, dexerr.ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			o.Owner = seller
			if o.PairID == 0 {
				o.PairID = f.pairID
			}
			_, err := f.apply(transaction.TypeSubmitOrder, o, seller, f.cfg.Admin)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestApp_OneStagedOrderPerOwner(t *testing.T) {
	f := newFixture(t, nil)

	btc := asset.Denom{Issuer: common.HexToAddress("0xb7c"), Symbol: "BTC", Precision: 8}
	rcpt, err := f.apply(transaction.TypeRegisterPair, transaction.RegisterPair{Spec: pair.Spec{
		Base: btc, Quote: usdt, Enabled: true,
	}}, f.cfg.Admin)
	require.NoError(t, err)
	otherPair := rcpt.PairID
	require.NotEqual(t, f.pairID, otherPair)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	_, err = f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: seller, PairID: f.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 5000, Price: 20000,
	}, seller)
	assert.True(t, errors.Is(err, dexerr.ErrConflict), "same pair: %v", err)

	_, err = f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: seller, PairID: otherPair, Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 100000000, Price: 20000,
	}, seller)
	assert.True(t, errors.Is(err, dexerr.ErrConflict), "other pair: %v", err)

	queued, err := f.app.Queued(seller)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, f.pairID, queued[0].PairID)

	rcpt, err = f.apply(transaction.TypeCancelQueued, transaction.CancelQueued{Owner: seller}, seller)
	require.NoError(t, err)
	assert.Equal(t, f.pairID, rcpt.PairID)
	queued, err = f.app.Queued(seller)
	require.NoError(t, err)
	assert.Empty(t, queued)

	_, err = f.apply(transaction.TypeCancelQueued, transaction.CancelQueued{Owner: seller}, seller)
	assert.True(t, errors.Is(err, dexerr.ErrNotFound))

	// The slot is free again, on any pair.
	_, err = f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: seller, PairID: otherPair, Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 100000000, Price: 20000,
	}, seller)
	require.NoError(t, err)
}

func TestApp_MarketBuyReservesQuote(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(buyer, orderbook.Buy, orderbook.Market, 30000, 0)
	queued, err := f.app.Queued(buyer)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Zero(t, queued[0].RequestedBase)
	assert.Equal(t, int64(30000), queued[0].FrozenQuant)
	assert.True(t, queued[0].FrozenDenom.Same(usdt))
}

func TestApp_UnmatchedDepositReturned(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	res := f.deposit(seller, eos, 9999)
	assert.Equal(t, "ok", res.Code)

	assert.Equal(t, int64(1_000_000), f.bank.BalanceOf(seller, eos))
	assert.Zero(t, f.bank.BalanceOf(f.cfg.Account, eos))

	// The staged order is still waiting for the right amount.
	queued, err := f.app.Queued(seller)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestApp_CancelOrderRefundsOnce(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)
	assert.Equal(t, int64(990_000), f.bank.BalanceOf(seller, eos))

	cancel := transaction.CancelOrder{PairID: f.pairID, Side: orderbook.Sell, OrderID: 1}

	_, err := f.apply(transaction.TypeCancelOrder, cancel, stranger)
	assert.True(t, errors.Is(err, dexerr.ErrUnauthorized))

	rcpt, err := f.apply(transaction.TypeCancelOrder, cancel, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.OrderID)
	assert.Equal(t, int64(1_000_000), f.bank.BalanceOf(seller, eos))

	_, err = f.apply(transaction.TypeCancelOrder, cancel, seller)
	assert.True(t, errors.Is(err, dexerr.ErrNotFound))
	assert.Equal(t, int64(1_000_000), f.bank.BalanceOf(seller, eos))

	_, err = f.app.Order(f.pairID, 1)
	assert.True(t, errors.Is(err, dexerr.ErrNotFound))
}

func TestApp_MatchPairNoneMatched(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)

	_, err := f.apply(transaction.TypeMatchPair, transaction.MatchPair{Invoker: stranger, PairID: f.pairID, MaxSteps: 5}, stranger)
	assert.True(t, errors.Is(err, dexerr.ErrNoneMatched))

	_, err = f.apply(transaction.TypeMatchAll, transaction.MatchAll{Invoker: stranger, MaxSteps: 5}, stranger)
	assert.True(t, errors.Is(err, dexerr.ErrNoneMatched))

	_, err = f.apply(transaction.TypeMatchPair, transaction.MatchPair{Invoker: stranger, PairID: f.pairID}, stranger)
	assert.True(t, errors.Is(err, dexerr.ErrInvalidParam))
}

func TestApp_MatchOnDemand(t *testing.T) {
	// Matching on admission is off; an explicit match_all does the work.
	f := newFixture(t, func(c *params.Dex) { c.MaxMatchCount = 0 })

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)
	f.stage(buyer, orderbook.Buy, orderbook.Limit, 10000, 20000)
	res := f.deposit(buyer, usdt, 20000)
	assert.Equal(t, 0, res.Trades)

	rcpt, err := f.apply(transaction.TypeMatchAll, transaction.MatchAll{Invoker: stranger, MaxSteps: 5, Note: "sweep"}, stranger)
	require.NoError(t, err)
	require.Len(t, rcpt.Trades, 1)
	assert.Equal(t, "sweep", rcpt.Trades[0].Memo)
	assert.Equal(t, int64(10000), f.bank.BalanceOf(buyer, eos))
}

func TestApp_ContinuationDrainsPausedRound(t *testing.T) {
	f := newFixture(t, func(c *params.Dex) { c.MaxMatchCount = 1 })

	for i := 0; i < 3; i++ {
		f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
		f.deposit(seller, eos, 10000)
	}

	f.stage(buyer, orderbook.Buy, orderbook.Limit, 30000, 20000)
	res := f.deposit(buyer, usdt, 60000)
	assert.Equal(t, 1, res.Trades)

	st, err := f.app.Status()
	require.NoError(t, err)
	assert.True(t, st.Armed)
	assert.Equal(t, []uint64{f.pairID}, st.Outstanding)
	assert.Equal(t, 1, st.Deferred)

	trades := 0
	for i := 0; i < 4; i++ {
		for _, r := range f.block().TxResults {
			require.Equal(t, "ok", r.Code, r.Log)
			trades += r.Trades
		}
	}
	assert.Equal(t, 2, trades)

	st, err = f.app.Status()
	require.NoError(t, err)
	assert.False(t, st.Armed)
	assert.Empty(t, st.Outstanding)
	assert.Zero(t, st.Deferred)

	assert.Equal(t, int64(30000), f.bank.BalanceOf(buyer, eos))
	assert.Equal(t, int64(60000), f.bank.BalanceOf(seller, usdt))
}

func TestApp_ResumesArmedContinuation(t *testing.T) {
	f := newFixture(t, func(c *params.Dex) { c.MaxMatchCount = 1 })

	for i := 0; i < 2; i++ {
		f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
		f.deposit(seller, eos, 10000)
	}
	f.stage(buyer, orderbook.Buy, orderbook.Limit, 20000, 20000)
	f.deposit(buyer, usdt, 40000)

	// A fresh process over the same store picks the continuation back up.
	f.app = f.newApp()
	st, err := f.app.Status()
	require.NoError(t, err)
	assert.True(t, st.Armed)
	assert.Equal(t, 1, st.Deferred)

	res := f.block()
	require.Len(t, res.TxResults, 1)
	assert.Equal(t, 1, res.TxResults[0].Trades)
}

func TestApp_ContinuationIdlesWhileDisabled(t *testing.T) {
	f := newFixture(t, func(c *params.Dex) { c.MaxMatchCount = 1 })

	for i := 0; i < 2; i++ {
		f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
		f.deposit(seller, eos, 10000)
	}
	f.stage(buyer, orderbook.Buy, orderbook.Limit, 20000, 20000)
	f.deposit(buyer, usdt, 40000)

	f.cfg.Enabled = false
	f.app = f.newApp()

	res := f.block()
	require.Len(t, res.TxResults, 1)
	assert.Equal(t, "ok", res.TxResults[0].Code)
	assert.Zero(t, res.TxResults[0].Trades)

	st, err := f.app.Status()
	require.NoError(t, err)
	assert.True(t, st.Armed)
	assert.Equal(t, []uint64{f.pairID}, st.Outstanding)
	assert.Zero(t, st.Deferred, "no self re-dispatch while disabled")
	assert.Empty(t, f.block().TxResults)

	f.cfg.Enabled = true
	f.app = f.newApp()
	res = f.block()
	require.Len(t, res.TxResults, 1)
	assert.Equal(t, 1, res.TxResults[0].Trades)

	st, err = f.app.Status()
	require.NoError(t, err)
	assert.False(t, st.Armed)
	assert.Zero(t, st.Deferred)
}

func TestApp_FeesAccrueAndWithdraw(t *testing.T) {
	f := newFixture(t, func(c *params.Dex) {
		c.TakerFeeRatio, c.MakerFeeRatio = 20, 10
	})

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)
	f.stage(buyer, orderbook.Buy, orderbook.Limit, 10000, 20000)
	res := f.deposit(buyer, usdt, 20000)
	require.Equal(t, 1, res.Trades)

	// Buyer is taker and pays 0.2% in base; seller is maker and pays 0.1% in quote.
	assert.Equal(t, int64(9980), f.bank.BalanceOf(buyer, eos))
	assert.Equal(t, int64(19980), f.bank.BalanceOf(seller, usdt))

	collector := f.cfg.FeeCollector
	r, err := f.app.Rewards(collector)
	require.NoError(t, err)
	assert.Equal(t, int64(20), r.Of(eos))
	assert.Equal(t, int64(20), r.Of(usdt))

	// Custody holds exactly the accrued rewards.
	assert.Equal(t, int64(20), f.bank.BalanceOf(f.cfg.Account, eos))
	assert.Equal(t, int64(20), f.bank.BalanceOf(f.cfg.Account, usdt))

	_, err = f.apply(transaction.TypeWithdrawReward, transaction.WithdrawReward{Owner: collector, Denom: usdt, Amount: 21}, collector)
	assert.Error(t, err)

	_, err = f.apply(transaction.TypeWithdrawReward, transaction.WithdrawReward{Owner: collector, Denom: usdt, Amount: 20}, collector)
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.bank.BalanceOf(collector, usdt))

	r, err = f.app.Rewards(collector)
	require.NoError(t, err)
	assert.Zero(t, r.Of(usdt))
	assert.Equal(t, int64(20), r.Of(eos))
}

func TestApp_DisabledTrading(t *testing.T) {
	f := newFixture(t, func(c *params.Dex) { c.Enabled = false })

	_, err := f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: seller, PairID: f.pairID, Side: orderbook.Sell, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
	}, seller)
	assert.True(t, errors.Is(err, dexerr.ErrDisabled))

	// Deposits while trading is off go straight back.
	f.deposit(seller, eos, 500)
	assert.Equal(t, int64(1_000_000), f.bank.BalanceOf(seller, eos))
}

func TestApp_CancelWhileTradingDisabled(t *testing.T) {
	f := newFixture(t, nil)

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)

	f.cfg.Enabled = false
	f.app = f.newApp()

	rcpt, err := f.apply(transaction.TypeCancelOrder, transaction.CancelOrder{PairID: f.pairID, Side: orderbook.Sell, OrderID: 1}, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.OrderID)
	assert.Equal(t, int64(1_000_000), f.bank.BalanceOf(seller, eos))
}

func TestApp_PairLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.cfg.Admin

	f.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	f.deposit(seller, eos, 10000)

	_, err := f.apply(transaction.TypeSetPairEnabled, transaction.SetPairEnabled{PairID: f.pairID, Enabled: false}, admin)
	require.NoError(t, err)

	_, err = f.apply(transaction.TypeSubmitOrder, transaction.SubmitOrder{
		Owner: buyer, PairID: f.pairID, Side: orderbook.Buy, Type: orderbook.Limit, Quantity: 10000, Price: 20000,
	}, buyer)
	assert.True(t, errors.Is(err, dexerr.ErrDisabled))

	_, err = f.apply(transaction.TypeRemovePair, transaction.RemovePair{PairID: f.pairID}, admin)
	assert.True(t, errors.Is(err, dexerr.ErrConflict), "resting orders block removal")

	// Cancellation still works on a disabled pair.
	_, err = f.apply(transaction.TypeCancelOrder, transaction.CancelOrder{PairID: f.pairID, Side: orderbook.Sell, OrderID: 1}, seller)
	require.NoError(t, err)

	_, err = f.apply(transaction.TypeRemovePair, transaction.RemovePair{PairID: f.pairID}, admin)
	require.NoError(t, err)
	_, err = f.app.Pair(f.pairID)
	assert.True(t, errors.Is(err, dexerr.ErrNotFound))
}

func TestApp_FinalizeBlockReportsFailures(t *testing.T) {
	f := newFixture(t, nil)

	bad := f.call(transaction.TypeCancelOrder, transaction.CancelOrder{PairID: f.pairID, Side: orderbook.Buy, OrderID: 9}, buyer)
	require.NoError(t, f.app.Submit(bad))
	f.app.PushTx([]byte("not a call"))

	res := f.block()
	require.Len(t, res.TxResults, 2)
	codes := map[string]bool{}
	for _, r := range res.TxResults {
		codes[r.Code] = true
	}
	assert.True(t, codes["not_found"])
	assert.True(t, codes["invalid_param"])
}

func TestApp_StateHashDeterministic(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, nil)

	ha := a.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 5})
	hb := b.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 5})
	assert.Equal(t, ha.AppHash, hb.AppHash)

	a.stage(seller, orderbook.Sell, orderbook.Limit, 10000, 20000)
	a.deposit(seller, eos, 10000)
	ha = a.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 5})
	assert.NotEqual(t, ha.AppHash, hb.AppHash)
}
