package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/storage"
)

// Read-only queries. Each runs in its own transaction that is discarded,
// so a query never observes a half-applied call.

func (a *App) view(fn func(tx *storage.Txn) error) error {
	tx := a.store.Begin()
	defer tx.Discard()
	return fn(tx)
}

func (a *App) Pairs() ([]*pair.TradingPair, error) {
	var out []*pair.TradingPair
	err := a.view(func(tx *storage.Txn) (err error) {
		out, err = pair.NewRegistry(tx).List()
		return err
	})
	return out, err
}

func (a *App) Pair(id uint64) (*pair.TradingPair, error) {
	var out *pair.TradingPair
	err := a.view(func(tx *storage.Txn) (err error) {
		out, err = pair.NewRegistry(tx).Lookup(id)
		return err
	})
	return out, err
}

// Depth aggregates up to levels price levels per side; 0 means all.
func (a *App) Depth(pairID uint64, levels int) (bids, asks []orderbook.PriceLevel, err error) {
	err = a.view(func(tx *storage.Txn) error {
		if _, err := pair.NewRegistry(tx).Lookup(pairID); err != nil {
			return err
		}
		if bids, err = orderbook.Levels(tx, pairID, orderbook.Buy, levels); err != nil {
			return err
		}
		asks, err = orderbook.Levels(tx, pairID, orderbook.Sell, levels)
		return err
	})
	return bids, asks, err
}

// RecentTrades returns up to limit trades of a pair, newest first.
func (a *App) RecentTrades(pairID uint64, limit int) ([]*orderbook.Trade, error) {
	var out []*orderbook.Trade
	err := a.view(func(tx *storage.Txn) (err error) {
		out, err = tx.RecentTrades(pairID, limit)
		return err
	})
	return out, err
}

// Order finds a resting order on either side of a pair.
func (a *App) Order(pairID, id uint64) (*orderbook.Order, error) {
	var out *orderbook.Order
	err := a.view(func(tx *storage.Txn) error {
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			o, err := tx.GetOrder(pairID, side, id)
			if err != nil {
				return err
			}
			if o != nil {
				out = o
				return nil
			}
		}
		return fmt.Errorf("order %d on pair %d: %w", id, pairID, dexerr.ErrNotFound)
	})
	return out, err
}

// Queued lists the owner's staged order, if any.
func (a *App) Queued(owner common.Address) ([]*orderbook.QueuedOrder, error) {
	var out []*orderbook.QueuedOrder
	err := a.view(func(tx *storage.Txn) error {
		q, err := tx.GetQueued(owner)
		if q != nil {
			out = append(out, q)
		}
		return err
	})
	return out, err
}

func (a *App) Rewards(owner common.Address) (*account.Rewards, error) {
	var out *account.Rewards
	err := a.view(func(tx *storage.Txn) (err error) {
		out, err = account.NewLedger(tx).Load(owner)
		return err
	})
	return out, err
}
