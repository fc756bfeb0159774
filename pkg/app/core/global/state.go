// Package global holds the process-wide counters and continuation state.
//
// A State is loaded once at the start of a call, mutated only through its
// methods, and written back once at the call's commit point if Dirty.
package global

import (
	"math"
	"sort"
)

type State struct {
	OrderID uint64 `json:"order_id"`
	PairID  uint64 `json:"pair_id"`
	TradeID uint64 `json:"trade_id"`
	QueueID uint64 `json:"queue_id"`

	// Outstanding lists, in ascending order, the pairs whose last round
	// paused with crossing orders left.
	Outstanding []uint64 `json:"outstanding"`
	// Armed is set while a continuation call is scheduled.
	Armed bool `json:"armed"`

	dirty bool
}

func New() *State { return &State{} }

// next wraps to 1 so an id is never 0.
func next(v uint64) uint64 {
	if v == 0 || v == math.MaxUint64 {
		return 1
	}
	return v + 1
}

func (s *State) NextOrderID() uint64 {
	s.OrderID = next(s.OrderID)
	s.dirty = true
	return s.OrderID
}

func (s *State) NextPairID() uint64 {
	s.PairID = next(s.PairID)
	s.dirty = true
	return s.PairID
}

func (s *State) NextTradeID() uint64 {
	s.TradeID = next(s.TradeID)
	s.dirty = true
	return s.TradeID
}

func (s *State) NextQueueID() uint64 {
	s.QueueID = next(s.QueueID)
	s.dirty = true
	return s.QueueID
}

// AddOutstanding records a paused pair. It returns false if already present.
func (s *State) AddOutstanding(pairID uint64) bool {
	i := sort.Search(len(s.Outstanding), func(i int) bool { return s.Outstanding[i] >= pairID })
	if i < len(s.Outstanding) && s.Outstanding[i] == pairID {
		return false
	}
	s.Outstanding = append(s.Outstanding, 0)
	copy(s.Outstanding[i+1:], s.Outstanding[i:])
	s.Outstanding[i] = pairID
	s.dirty = true
	return true
}

// RemoveOutstanding drops a pair. It returns false if it was not present.
func (s *State) RemoveOutstanding(pairID uint64) bool {
	i := sort.Search(len(s.Outstanding), func(i int) bool { return s.Outstanding[i] >= pairID })
	if i == len(s.Outstanding) || s.Outstanding[i] != pairID {
		return false
	}
	s.Outstanding = append(s.Outstanding[:i], s.Outstanding[i+1:]...)
	s.dirty = true
	return true
}

func (s *State) IsOutstanding(pairID uint64) bool {
	i := sort.Search(len(s.Outstanding), func(i int) bool { return s.Outstanding[i] >= pairID })
	return i < len(s.Outstanding) && s.Outstanding[i] == pairID
}

// OutstandingPairs returns a copy of the outstanding set.
func (s *State) OutstandingPairs() []uint64 {
	return append([]uint64(nil), s.Outstanding...)
}

func (s *State) SetArmed(armed bool) {
	if s.Armed == armed {
		return
	}
	s.Armed = armed
	s.dirty = true
}

// Dirty reports whether the state changed since it was loaded or saved.
func (s *State) Dirty() bool { return s.dirty }

// MarkClean is called by the store after a successful save.
func (s *State) MarkClean() { s.dirty = false }
