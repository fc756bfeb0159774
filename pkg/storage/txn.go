package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/global"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
)

// Txn is a typed view over one transaction. It implements the storage
// interfaces of the pair registry, the order ledger and the reward ledger.
type Txn struct {
	kv      kv
	commit  func() error
	discard func()
	done    bool
}

func newTxn(k kv, commit func() error, discard func()) *Txn {
	return &Txn{kv: k, commit: commit, discard: discard}
}

// Commit makes all writes visible atomically.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	return t.commit()
}

// Discard drops all writes. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.discard()
}

func (t *Txn) getJSON(key []byte, v any) (bool, error) {
	b, err := t.kv.get(key)
	if err != nil || b == nil {
		return false, err
	}
	return true, decode(b, v)
}

func (t *Txn) putJSON(key []byte, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	return t.kv.set(key, b)
}

// ============================================================================
// Global state
// ============================================================================

// LoadGlobal returns the stored global state, or a fresh one.
func (t *Txn) LoadGlobal() (*global.State, error) {
	g := global.New()
	if _, err := t.getJSON(globalKey(), g); err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}
	return g, nil
}

// SaveGlobal writes g if it changed.
func (t *Txn) SaveGlobal(g *global.State) error {
	if !g.Dirty() {
		return nil
	}
	if err := t.putJSON(globalKey(), g); err != nil {
		return fmt.Errorf("save global state: %w", err)
	}
	g.MarkClean()
	return nil
}

// ============================================================================
// Pairs
// ============================================================================

func (t *Txn) GetPair(id uint64) (*pair.TradingPair, error) {
	var p pair.TradingPair
	ok, err := t.getJSON(pairKey(id), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (t *Txn) FindPair(base, quote asset.Denom) (uint64, bool, error) {
	b, err := t.kv.get(pairIndexKey(base, quote))
	if err != nil || b == nil {
		return 0, false, err
	}
	return decodeU64(b), true, nil
}

func (t *Txn) PutPair(p *pair.TradingPair) error {
	if err := t.putJSON(pairKey(p.ID), p); err != nil {
		return fmt.Errorf("save pair %d: %w", p.ID, err)
	}
	return t.kv.set(pairIndexKey(p.Base, p.Quote), be64(nil, p.ID))
}

func (t *Txn) DeletePair(p *pair.TradingPair) error {
	if err := t.kv.del(pairKey(p.ID)); err != nil {
		return fmt.Errorf("delete pair %d: %w", p.ID, err)
	}
	return t.kv.del(pairIndexKey(p.Base, p.Quote))
}

// ListPairs returns all pairs ordered by id.
func (t *Txn) ListPairs() ([]*pair.TradingPair, error) {
	prefix := pairPrefix()
	var pairs []*pair.TradingPair
	var decodeErr error
	err := t.kv.scan(prefix, keyUpperBound(prefix), false, func(_, v []byte) bool {
		var p pair.TradingPair
		if decodeErr = decode(v, &p); decodeErr != nil {
			return false
		}
		pairs = append(pairs, &p)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	return pairs, err
}

// ============================================================================
// Orders
// ============================================================================

func (t *Txn) GetOrder(pairID uint64, side orderbook.Side, id uint64) (*orderbook.Order, error) {
	var o orderbook.Order
	ok, err := t.getJSON(orderKey(pairID, side, id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (t *Txn) FirstOrder(pairID uint64, side orderbook.Side, lo, hi uint64) (*orderbook.Order, error) {
	lower, upper := matchRange(pairID, side, lo, hi)
	var id uint64
	var found bool
	err := t.kv.scan(lower, upper, false, func(_, v []byte) bool {
		id, found = decodeU64(v), true
		return false
	})
	if err != nil || !found {
		return nil, err
	}
	o, err := t.GetOrder(pairID, side, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("match index points at missing order %d of pair %d", id, pairID)
	}
	return o, nil
}

// PutOrder writes the order and its match index entry. The price key of an
// order never changes, so the index entry is overwritten in place.
func (t *Txn) PutOrder(o *orderbook.Order) error {
	if err := t.putJSON(orderKey(o.PairID, o.Side, o.ID), o); err != nil {
		return fmt.Errorf("save order %d: %w", o.ID, err)
	}
	return t.kv.set(matchKey(o), be64(nil, o.ID))
}

func (t *Txn) DeleteOrder(o *orderbook.Order) error {
	if err := t.kv.del(orderKey(o.PairID, o.Side, o.ID)); err != nil {
		return fmt.Errorf("delete order %d: %w", o.ID, err)
	}
	return t.kv.del(matchKey(o))
}

func (t *Txn) ScanOrders(pairID uint64, side orderbook.Side, fn func(*orderbook.Order) bool) error {
	prefix := matchSidePrefix(pairID, side)
	var ids []uint64
	err := t.kv.scan(prefix, keyUpperBound(prefix), false, func(_, v []byte) bool {
		ids = append(ids, decodeU64(v))
		return true
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		o, err := t.GetOrder(pairID, side, id)
		if err != nil {
			return err
		}
		if o == nil {
			continue
		}
		if !fn(o) {
			return nil
		}
	}
	return nil
}

// ============================================================================
// Queued orders
// ============================================================================

// GetQueued returns the owner's staged order, or nil when there is none.
func (t *Txn) GetQueued(owner common.Address) (*orderbook.QueuedOrder, error) {
	b, err := t.kv.get(queueOwnerKey(owner))
	if err != nil || b == nil {
		return nil, err
	}
	var q orderbook.QueuedOrder
	ok, err := t.getJSON(queueKey(decodeU64(b)), &q)
	if err != nil || !ok {
		return nil, err
	}
	return &q, nil
}

func (t *Txn) PutQueued(q *orderbook.QueuedOrder) error {
	if err := t.putJSON(queueKey(q.QueueID), q); err != nil {
		return fmt.Errorf("save queued order %d: %w", q.QueueID, err)
	}
	return t.kv.set(queueOwnerKey(q.Owner), be64(nil, q.QueueID))
}

func (t *Txn) DeleteQueued(q *orderbook.QueuedOrder) error {
	if err := t.kv.del(queueKey(q.QueueID)); err != nil {
		return fmt.Errorf("delete queued order %d: %w", q.QueueID, err)
	}
	return t.kv.del(queueOwnerKey(q.Owner))
}

// ============================================================================
// Rewards
// ============================================================================

func (t *Txn) GetRewards(owner common.Address) (*account.Rewards, error) {
	var r account.Rewards
	ok, err := t.getJSON(rewardKey(owner), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func (t *Txn) PutRewards(r *account.Rewards) error {
	if r.Empty() {
		return t.kv.del(rewardKey(r.Owner))
	}
	return t.putJSON(rewardKey(r.Owner), r)
}

// ============================================================================
// Trades
// ============================================================================

func (t *Txn) PutTrade(tr *orderbook.Trade) error {
	return t.putJSON(tradeKey(tr.PairID, tr.ID), tr)
}

// RecentTrades returns up to limit trades of a pair, newest first.
func (t *Txn) RecentTrades(pairID uint64, limit int) ([]*orderbook.Trade, error) {
	prefix := tradePrefix(pairID)
	var trades []*orderbook.Trade
	var decodeErr error
	err := t.kv.scan(prefix, keyUpperBound(prefix), true, func(_, v []byte) bool {
		var tr orderbook.Trade
		if decodeErr = decode(v, &tr); decodeErr != nil {
			return false
		}
		trades = append(trades, &tr)
		return limit <= 0 || len(trades) < limit
	})
	if err == nil {
		err = decodeErr
	}
	return trades, err
}

var (
	_ pair.Store          = (*Txn)(nil)
	_ orderbook.Table     = (*Txn)(nil)
	_ account.RewardStore = (*Txn)(nil)
)
