package orderbook

import (
	"fmt"
	"math"

	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Table is the ordered order storage for all pairs. Orders are partitioned
// by (pair, side) and indexed by (PriceKey, ID). Point lookups return nil
// without error when the order does not exist.
type Table interface {
	GetOrder(pairID uint64, side Side, id uint64) (*Order, error)
	// FirstOrder returns the lowest-match-key order whose price key lies in
	// [lo, hi], or nil.
	FirstOrder(pairID uint64, side Side, lo, hi uint64) (*Order, error)
	PutOrder(o *Order) error
	DeleteOrder(o *Order) error
	// ScanOrders visits orders in match order until fn returns false.
	ScanOrders(pairID uint64, side Side, fn func(*Order) bool) error
}

const (
	marketKey   uint64 = 0
	limitKeyMin uint64 = 1
	limitKeyMax uint64 = math.MaxUint64
)

// Cursor walks one price-key range of one side of a pair. It caches the
// current order so fills accumulate in memory and are written back once
// per round by Persist.
type Cursor struct {
	table  Table
	pairID uint64
	side   Side
	lo, hi uint64

	order     *Order
	loaded    bool
	dirty     bool
	exhausted bool
}

func newCursor(t Table, pairID uint64, side Side, lo, hi uint64) *Cursor {
	return &Cursor{table: t, pairID: pairID, side: side, lo: lo, hi: hi}
}

// Order returns the current best order of the range, or nil.
func (c *Cursor) Order() (*Order, error) {
	if c.loaded {
		return c.order, nil
	}
	o, err := c.table.FirstOrder(c.pairID, c.side, c.lo, c.hi)
	if err != nil {
		return nil, fmt.Errorf("load best %s order of pair %d: %w", c.side, c.pairID, err)
	}
	c.order, c.loaded, c.dirty, c.exhausted = o, true, false, false
	return o, nil
}

// Empty reports whether the range holds no order.
func (c *Cursor) Empty() (bool, error) {
	o, err := c.Order()
	return o == nil, err
}

func (c *Cursor) Side() Side { return c.side }

// ApplyFill adds a fill to the current order.
func (c *Cursor) ApplyFill(f Fill) error {
	if c.order == nil {
		return fmt.Errorf("fill on empty %s cursor of pair %d: %w", c.side, c.pairID, dexerr.ErrInvariantViolation)
	}
	if err := c.order.ApplyFill(f); err != nil {
		return err
	}
	c.dirty = true
	return nil
}

// MarkExhausted flags an unbounded order as unable to take any more base.
func (c *Cursor) MarkExhausted() { c.exhausted = true }

// Complete reports whether the current order is done matching.
func (c *Cursor) Complete() bool {
	if c.order == nil {
		return false
	}
	return c.exhausted || c.order.IsComplete()
}

// AdvancePastComplete removes the current order if it is complete so the
// next one becomes visible. It returns the removed order, or nil.
func (c *Cursor) AdvancePastComplete() (*Order, error) {
	if !c.Complete() {
		return nil, nil
	}
	done := c.order
	if err := c.table.DeleteOrder(done); err != nil {
		return nil, fmt.Errorf("remove complete order %d: %w", done.ID, err)
	}
	c.order, c.loaded, c.dirty, c.exhausted = nil, false, false, false
	return done, nil
}

// Persist writes back the current order if fills changed it.
func (c *Cursor) Persist() error {
	if !c.dirty || c.order == nil {
		return nil
	}
	if err := c.table.PutOrder(c.order); err != nil {
		return fmt.Errorf("persist order %d: %w", c.order.ID, err)
	}
	c.dirty = false
	return nil
}
