package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
)

// Key schema. Integers are big-endian so byte order matches numeric order.
//
//   g                                        → global state
//   p:<pair>                                 → TradingPair
//   ps:<base key>|<quote key>                → pair id (denomination index)
//   o:<pair><side><order>                    → Order
//   om:<pair><side><price key><order>        → order id (match index)
//   q:<queue>                                → QueuedOrder
//   qo:<owner>                               → queue id (owner index)
//   r:<owner>                                → Rewards
//   t:<pair><trade>                          → Trade
const (
	prefixGlobal     = "g"
	prefixPair       = "p:"
	prefixPairIndex  = "ps:"
	prefixOrder      = "o:"
	prefixMatch      = "om:"
	prefixQueue      = "q:"
	prefixQueueOwner = "qo:"
	prefixReward     = "r:"
	prefixTrade      = "t:"
)

func be64(b []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(b, v) }

func globalKey() []byte { return []byte(prefixGlobal) }

func pairKey(id uint64) []byte { return be64([]byte(prefixPair), id) }

func pairPrefix() []byte { return []byte(prefixPair) }

func pairIndexKey(base, quote asset.Denom) []byte {
	return []byte(prefixPairIndex + base.Key() + "|" + quote.Key())
}

func orderSidePrefix(pairID uint64, side orderbook.Side) []byte {
	return append(be64([]byte(prefixOrder), pairID), byte(side))
}

func orderKey(pairID uint64, side orderbook.Side, id uint64) []byte {
	return be64(orderSidePrefix(pairID, side), id)
}

func matchSidePrefix(pairID uint64, side orderbook.Side) []byte {
	return append(be64([]byte(prefixMatch), pairID), byte(side))
}

func matchKey(o *orderbook.Order) []byte {
	return be64(be64(matchSidePrefix(o.PairID, o.Side), o.PriceKey()), o.ID)
}

// matchRange bounds the match index entries whose price key is in [lo, hi].
func matchRange(pairID uint64, side orderbook.Side, lo, hi uint64) (lower, upper []byte) {
	p := matchSidePrefix(pairID, side)
	return be64(append([]byte(nil), p...), lo), keyUpperBound(be64(append([]byte(nil), p...), hi))
}

func queueKey(id uint64) []byte { return be64([]byte(prefixQueue), id) }

// queueOwnerKey indexes the single staged order an owner may hold.
func queueOwnerKey(owner common.Address) []byte {
	return append([]byte(prefixQueueOwner), owner.Bytes()...)
}

func rewardKey(owner common.Address) []byte {
	return append([]byte(prefixReward), owner.Bytes()...)
}

func tradePrefix(pairID uint64) []byte { return be64([]byte(prefixTrade), pairID) }

func tradeKey(pairID, id uint64) []byte { return be64(tradePrefix(pairID), id) }

// keyUpperBound returns the exclusive upper bound for a prefix scan. Trailing
// 0xff bytes carry into the previous byte; an all-0xff prefix has no bound.
func keyUpperBound(prefix []byte) []byte {
	bound := append([]byte(nil), prefix...)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] != 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}

func decodeU64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
