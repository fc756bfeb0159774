package matching_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/fee"
	"github.com/uhyunpark/hyperdex/pkg/app/core/global"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

var (
	buyer     = common.HexToAddress("0xb1")
	seller    = common.HexToAddress("0x51")
	collector = common.HexToAddress("0xc0")
	root      = common.HexToAddress("0x7007")
)

type payout struct {
	To     common.Address
	Denom  string
	Amount int64
	Memo   string
	Kind   string
}

type payLog struct{ pays []payout }

func (l *payLog) Pay(to common.Address, d asset.Denom, amount int64, memo, kind string) {
	l.pays = append(l.pays, payout{To: to, Denom: d.Symbol, Amount: amount, Memo: memo, Kind: kind})
}

func (l *payLog) total(to common.Address, symbol string) int64 {
	var sum int64
	for _, p := range l.pays {
		if p.To == to && p.Denom == symbol {
			sum += p.Amount
		}
	}
	return sum
}

type fixture struct {
	tx     *storage.Txn
	g      *global.State
	pair   *pair.TradingPair
	ledger *account.Ledger
	pays   *payLog
	engine *matching.Engine
}

func newFixture(t testing.TB, basePrec, quotePrec uint8, feeInQuote bool, dir account.Directory) *fixture {
	t.Helper()
	tx := storage.NewMemStore().Begin()
	t.Cleanup(tx.Discard)

	g := global.New()
	reg := pair.NewRegistry(tx)
	p, _, err := reg.Register(pair.Spec{
		Base:       asset.Denom{Issuer: common.HexToAddress("0xe05"), Symbol: "EOS", Precision: basePrec},
		Quote:      asset.Denom{Issuer: common.HexToAddress("0x05d7"), Symbol: "USDT", Precision: quotePrec},
		FeeInQuote: feeInQuote,
		Enabled:    true,
	}, g, 0)
	require.NoError(t, err)

	ledger := account.NewLedger(tx)
	pays := &payLog{}
	return &fixture{
		tx:     tx,
		g:      g,
		pair:   p,
		ledger: ledger,
		pays:   pays,
		engine: &matching.Engine{
			Table:  tx,
			Trades: tx,
			Fees: &fee.Allocator{
				Collector:   collector,
				Root:        root,
				ParentRatio: 3000,
				GrandRatio:  1000,
				Directory:   dir,
				Ledger:      ledger,
			},
			Payouts: pays,
			IDs:     g,
			Prices:  reg,
		},
	}
}

func (f *fixture) put(t testing.TB, o *orderbook.Order) {
	t.Helper()
	o.PairID = f.pair.ID
	if o.Owner == (common.Address{}) {
		if o.Side == orderbook.Buy {
			o.Owner = buyer
		} else {
			o.Owner = seller
		}
	}
	if o.Type == 0 {
		o.Type = orderbook.Limit
	}
	if o.Side == orderbook.Sell && o.FrozenQuant == 0 {
		o.FrozenQuant = o.RequestedBase
	}
	o.FeeInQuote = f.pair.FeeInQuote
	require.NoError(t, f.tx.PutOrder(o))
}

func (f *fixture) run(t *testing.T, maxCount int) *matching.Result {
	t.Helper()
	res, err := f.engine.Run(matching.Request{Pair: f.pair, MaxCount: maxCount, Memo: "test", Now: 1000})
	require.NoError(t, err)
	return res
}

func (f *fixture) order(t *testing.T, side orderbook.Side, id uint64) *orderbook.Order {
	t.Helper()
	o, err := f.tx.GetOrder(f.pair.ID, side, id)
	require.NoError(t, err)
	return o
}

func TestRun_PartialFillAgainstRestingSell(t *testing.T) {
	f := newFixture(t, 4, 8, false, nil)
	f.put(t, &orderbook.Order{ID: 10, Side: orderbook.Sell, Price: 200000000, RequestedBase: 1000000})
	f.put(t, &orderbook.Order{ID: 11, Side: orderbook.Buy, Price: 200000000, RequestedBase: 500000, FrozenQuant: 10000000000})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(500000), tr.Base)
	assert.Equal(t, int64(10000000000), tr.Quote)
	assert.Equal(t, int64(200000000), tr.Price)
	assert.Equal(t, orderbook.Buy, tr.TakerSide)
	assert.Equal(t, int64(0), tr.BuyRefund)
	assert.False(t, res.Paused)

	assert.Nil(t, f.order(t, orderbook.Buy, 11), "buy completes")
	sell := f.order(t, orderbook.Sell, 10)
	require.NotNil(t, sell)
	assert.Equal(t, int64(500000), sell.RemainingBase())
	assert.Equal(t, tr.ID, sell.LastTradeID)

	assert.Equal(t, int64(10000000000), f.pays.total(seller, "USDT"))
	assert.Equal(t, int64(500000), f.pays.total(buyer, "EOS"))
	assert.Equal(t, int64(200000000), f.pair.LatestPrice)
}

func TestRun_BuyConsumedAcrossTwoSells(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Sell, Price: 3, RequestedBase: 4})
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Sell, Price: 3, RequestedBase: 6})
	f.put(t, &orderbook.Order{ID: 5, Side: orderbook.Buy, Price: 3, RequestedBase: 10, FrozenQuant: 30})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(2), res.Trades[0].SellOrderID)
	assert.Equal(t, int64(4), res.Trades[0].Base)
	assert.Equal(t, uint64(3), res.Trades[1].SellOrderID)
	assert.Equal(t, int64(6), res.Trades[1].Base)
	assert.Equal(t, int64(0), res.Trades[1].BuyRefund)

	for _, p := range f.pays.pays {
		assert.NotEqual(t, matching.KindRefund, p.Kind, "exactly consumed reserve leaves nothing to refund")
	}
	empty, err := orderbook.NewBook(f.tx, f.pair.ID).Empty()
	require.NoError(t, err)
	assert.True(t, empty)
	assert.Len(t, res.Removed, 3)
}

func TestRun_PriceTimePriority(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 100, RequestedBase: 5})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Sell, Price: 100, RequestedBase: 5})
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Sell, Price: 99, RequestedBase: 1})
	f.put(t, &orderbook.Order{ID: 4, Side: orderbook.Buy, Price: 100, RequestedBase: 3, FrozenQuant: 300})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(3), res.Trades[0].SellOrderID, "better price first")
	assert.Equal(t, int64(99), res.Trades[0].Price)
	assert.Equal(t, uint64(1), res.Trades[1].SellOrderID, "earlier order at equal price")
	assert.Equal(t, int64(2), f.order(t, orderbook.Sell, 1).MatchedBase)
	assert.Equal(t, int64(0), f.order(t, orderbook.Sell, 2).MatchedBase)
	// 1@99 + 2@100 out of a 300 reserve.
	assert.Equal(t, int64(1), res.Trades[1].BuyRefund)
}

func TestRun_TradeAtMakerPrice(t *testing.T) {
	tests := []struct {
		name      string
		orders    []*orderbook.Order
		wantPrice int64
		wantTaker orderbook.Side
		refund    int64
	}{
		{
			name: "resting ask, incoming bid",
			orders: []*orderbook.Order{
				{ID: 1, Side: orderbook.Sell, Price: 100, RequestedBase: 10},
				{ID: 2, Side: orderbook.Buy, Price: 110, RequestedBase: 10, FrozenQuant: 1100},
			},
			wantPrice: 100,
			wantTaker: orderbook.Buy,
			refund:    100,
		},
		{
			name: "resting bid, incoming ask",
			orders: []*orderbook.Order{
				{ID: 1, Side: orderbook.Buy, Price: 110, RequestedBase: 10, FrozenQuant: 1100},
				{ID: 2, Side: orderbook.Sell, Price: 100, RequestedBase: 10},
			},
			wantPrice: 110,
			wantTaker: orderbook.Sell,
			refund:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, 0, false, nil)
			for _, o := range tt.orders {
				f.put(t, o)
			}
			res := f.run(t, 10)
			require.Len(t, res.Trades, 1)
			assert.Equal(t, tt.wantPrice, res.Trades[0].Price)
			assert.Equal(t, tt.wantTaker, res.Trades[0].TakerSide)
			assert.Equal(t, tt.refund, res.Trades[0].BuyRefund)

			var refunded int64
			for _, p := range f.pays.pays {
				if p.Kind == matching.KindRefund {
					refunded += p.Amount
					assert.Equal(t, buyer, p.To)
				}
			}
			assert.Equal(t, tt.refund, refunded)
		})
	}
}

func TestRun_NoCross(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 101, RequestedBase: 10})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Price: 100, RequestedBase: 10, FrozenQuant: 1000})

	res := f.run(t, 10)
	assert.Empty(t, res.Trades)
	assert.False(t, res.Paused)
	assert.Equal(t, int64(0), f.pair.LatestPrice)
}

func TestRun_BudgetPausesRound(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	for id := uint64(1); id <= 3; id++ {
		f.put(t, &orderbook.Order{ID: id, Side: orderbook.Sell, Price: 10, RequestedBase: 1})
	}
	f.put(t, &orderbook.Order{ID: 4, Side: orderbook.Buy, Price: 10, RequestedBase: 3, FrozenQuant: 30})

	res := f.run(t, 2)
	assert.Len(t, res.Trades, 2)
	assert.True(t, res.Paused)

	buy := f.order(t, orderbook.Buy, 4)
	require.NotNil(t, buy, "partial fill persisted between rounds")
	assert.Equal(t, int64(2), buy.MatchedBase)

	res = f.run(t, 2)
	assert.Len(t, res.Trades, 1)
	assert.False(t, res.Paused)
	assert.Nil(t, f.order(t, orderbook.Buy, 4))
}

func TestRun_BudgetExactlyUsedWithoutCrossing(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 10, RequestedBase: 1})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Price: 10, RequestedBase: 1, FrozenQuant: 10})

	res := f.run(t, 1)
	assert.Len(t, res.Trades, 1)
	assert.False(t, res.Paused)
}

func TestRun_RejectsZeroBudget(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	_, err := f.engine.Run(matching.Request{Pair: f.pair, MaxCount: 0})
	assert.True(t, errors.Is(err, dexerr.ErrInvalidParam))
}

func TestRun_MarketSellTakesBestBids(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Buy, Price: 9, RequestedBase: 5, FrozenQuant: 45})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Price: 10, RequestedBase: 5, FrozenQuant: 50})
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Sell, Type: orderbook.Market, RequestedBase: 7})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(10), res.Trades[0].Price)
	assert.Equal(t, int64(9), res.Trades[1].Price)
	assert.Equal(t, orderbook.Sell, res.Trades[1].TakerSide)
	assert.Equal(t, int64(5*10+2*9), f.pays.total(seller, "USDT"))
	assert.Equal(t, int64(3), f.order(t, orderbook.Buy, 1).RemainingBase())
}

func TestRun_MarketBuySpendsReserve(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 3, RequestedBase: 100})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Sell, Price: 6, RequestedBase: 1000})
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Buy, Type: orderbook.Market, FrozenQuant: 1000})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(100), res.Trades[0].Base)
	assert.Equal(t, int64(300), res.Trades[0].Quote)
	// 700 left buys 116 at 6 with 4 of dust.
	assert.Equal(t, int64(116), res.Trades[1].Base)
	assert.Equal(t, int64(696), res.Trades[1].Quote)
	assert.Equal(t, int64(4), res.Trades[1].BuyRefund)

	assert.Nil(t, f.order(t, orderbook.Buy, 3), "exhausted market buy is removed")
	assert.Equal(t, int64(216), f.pays.total(buyer, "EOS"))
	assert.Equal(t, int64(4), f.pays.total(buyer, "USDT"))
}

func TestRun_MarketBuyTooSmallIsRetired(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 10, RequestedBase: 5})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Type: orderbook.Market, FrozenQuant: 5})

	res := f.run(t, 10)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, uint64(2), res.Removed[0].ID)
	require.Len(t, f.pays.pays, 1)
	assert.Equal(t, payout{To: buyer, Denom: "USDT", Amount: 5, Memo: "oid:2", Kind: matching.KindRefund}, f.pays.pays[0])
}

func TestRun_SpentMarketBuyDoesNotPause(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 10, RequestedBase: 1})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Sell, Price: 20, RequestedBase: 5})
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Buy, Price: 10, RequestedBase: 1, FrozenQuant: 10})
	f.put(t, &orderbook.Order{ID: 4, Side: orderbook.Buy, Type: orderbook.Market, FrozenQuant: 15})

	// The market buy takes sell 1 and has 5 left, which buys nothing at 20.
	res := f.run(t, 1)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(4), res.Trades[0].BuyOrderID)
	assert.False(t, res.Paused, "retiring the spent market buy is not leftover work")

	assert.Nil(t, f.order(t, orderbook.Buy, 4))
	assert.NotNil(t, f.order(t, orderbook.Buy, 3))
	var removed []uint64
	for _, o := range res.Removed {
		removed = append(removed, o.ID)
	}
	assert.ElementsMatch(t, []uint64{1, 4}, removed)
	assert.Equal(t, int64(5), f.pays.total(buyer, "USDT"))
}

func TestRun_MarketAgainstMarket(t *testing.T) {
	f := newFixture(t, 0, 0, false, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Type: orderbook.Market, RequestedBase: 4})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Type: orderbook.Market, FrozenQuant: 100})

	res := f.run(t, 10)
	assert.Empty(t, res.Trades, "two market orders have no price")

	// A limit bid gives the earlier market sell a counterpart.
	f.put(t, &orderbook.Order{ID: 3, Side: orderbook.Buy, Price: 5, RequestedBase: 2, FrozenQuant: 10})
	res = f.run(t, 10)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(1), res.Trades[0].SellOrderID)
	assert.Equal(t, uint64(3), res.Trades[0].BuyOrderID)
	assert.Equal(t, int64(5), res.Trades[0].Price)
}

func TestRun_FeeInQuote(t *testing.T) {
	f := newFixture(t, 0, 0, true, nil)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 100, RequestedBase: 10, TakerFeeRatio: 100, MakerFeeRatio: 50})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Price: 100, RequestedBase: 10, FrozenQuant: 1010, TakerFeeRatio: 100, MakerFeeRatio: 50})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(5), tr.SellFee)
	assert.Equal(t, int64(10), tr.BuyFee)
	assert.True(t, tr.BuyFeeInQuote)
	assert.Equal(t, int64(0), tr.BuyRefund)

	assert.Equal(t, int64(995), f.pays.total(seller, "USDT"))
	assert.Equal(t, int64(10), f.pays.total(buyer, "EOS"))

	r, err := f.ledger.Load(collector)
	require.NoError(t, err)
	assert.Equal(t, int64(15), r.Of(f.pair.Quote))
	assert.Equal(t, int64(0), r.Of(f.pair.Base))
}

func TestRun_FeeInBaseWithReferrals(t *testing.T) {
	parent := common.HexToAddress("0xaa")
	grand := common.HexToAddress("0x9a")
	dir := account.StaticDirectory{buyer: parent, parent: grand, grand: root}

	f := newFixture(t, 0, 0, false, dir)
	f.put(t, &orderbook.Order{ID: 1, Side: orderbook.Sell, Price: 1, RequestedBase: 1000, TakerFeeRatio: 100, MakerFeeRatio: 50})
	f.put(t, &orderbook.Order{ID: 2, Side: orderbook.Buy, Price: 1, RequestedBase: 1000, FrozenQuant: 1000, TakerFeeRatio: 100, MakerFeeRatio: 50})

	res := f.run(t, 10)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(10), tr.BuyFee)
	assert.False(t, tr.BuyFeeInQuote)
	assert.Equal(t, int64(5), tr.SellFee)
	assert.Equal(t, int64(990), f.pays.total(buyer, "EOS"))
	assert.Equal(t, int64(995), f.pays.total(seller, "USDT"))

	rewards := func(a common.Address) *account.Rewards {
		r, err := f.ledger.Load(a)
		require.NoError(t, err)
		return r
	}
	assert.Equal(t, int64(3), rewards(parent).Of(f.pair.Base))
	assert.Equal(t, int64(1), rewards(grand).Of(f.pair.Base))
	assert.Equal(t, int64(6), rewards(collector).Of(f.pair.Base))
	// The seller has no referrer: its whole fee goes to the collector.
	assert.Equal(t, int64(5), rewards(collector).Of(f.pair.Quote))
}

func TestRun_ConservesFunds(t *testing.T) {
	f := newFixture(t, 2, 2, true, nil)
	type spec struct {
		side  orderbook.Side
		price int64
		base  int64
	}
	specs := []spec{
		{orderbook.Sell, 1010, 333}, {orderbook.Buy, 1020, 150}, {orderbook.Sell, 995, 77},
		{orderbook.Buy, 1100, 500}, {orderbook.Sell, 1000, 41}, {orderbook.Buy, 990, 12},
	}
	var frozenQuote, frozenBase int64
	for i, s := range specs {
		o := &orderbook.Order{ID: uint64(i + 1), Side: s.side, Price: s.price, RequestedBase: s.base, TakerFeeRatio: 30, MakerFeeRatio: 10}
		if s.side == orderbook.Buy {
			// quote_for(base, price) + taker fee on it, rounded up generously
			q := s.base * s.price / 100
			o.FrozenQuant = q + q*30/10000 + 1
			frozenQuote += o.FrozenQuant
		} else {
			frozenBase += s.base
		}
		f.put(t, o)
	}

	f.run(t, 100)

	var paidQuote, paidBase int64
	for _, p := range f.pays.pays {
		if p.Denom == "USDT" {
			paidQuote += p.Amount
		} else {
			paidBase += p.Amount
		}
	}
	var restingQuote, restingBase int64
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		require.NoError(t, f.tx.ScanOrders(f.pair.ID, side, func(o *orderbook.Order) bool {
			assert.GreaterOrEqual(t, o.Unreleased(), int64(0))
			if o.Side == orderbook.Buy {
				restingQuote += o.Unreleased()
			} else {
				restingBase += o.Unreleased()
			}
			return true
		}))
	}
	r, err := f.ledger.Load(collector)
	require.NoError(t, err)

	assert.Equal(t, frozenQuote, paidQuote+restingQuote+r.Of(f.pair.Quote))
	assert.Equal(t, frozenBase, paidBase+restingBase+r.Of(f.pair.Base))
}
