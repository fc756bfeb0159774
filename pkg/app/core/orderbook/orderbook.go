package orderbook

// Book is the two-sided view of one pair used during a matching round.
// Each side has a market cursor (price key 0) and a limit cursor, so market
// orders are always served first while limit orders stay reachable for
// market-against-market resolution.
type Book struct {
	PairID uint64

	table Table
	bids  [2]*Cursor // market, limit
	asks  [2]*Cursor
}

func NewBook(t Table, pairID uint64) *Book {
	return &Book{
		PairID: pairID,
		table:  t,
		bids: [2]*Cursor{
			newCursor(t, pairID, Buy, marketKey, marketKey),
			newCursor(t, pairID, Buy, limitKeyMin, limitKeyMax),
		},
		asks: [2]*Cursor{
			newCursor(t, pairID, Sell, marketKey, marketKey),
			newCursor(t, pairID, Sell, limitKeyMin, limitKeyMax),
		},
	}
}

func (b *Book) cursors(side Side) [2]*Cursor {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// Best returns the cursor positioned on the side's lowest match key, or nil
// when the side is empty.
func (b *Book) Best(side Side) (*Cursor, error) {
	for _, c := range b.cursors(side) {
		empty, err := c.Empty()
		if err != nil {
			return nil, err
		}
		if !empty {
			return c, nil
		}
	}
	return nil, nil
}

// BestLimit returns the cursor of the side's best limit order, or nil.
func (b *Book) BestLimit(side Side) (*Cursor, error) {
	c := b.cursors(side)[1]
	empty, err := c.Empty()
	if err != nil || empty {
		return nil, err
	}
	return c, nil
}

// Persist writes back every order still resting with unsaved fills.
func (b *Book) Persist() error {
	for _, side := range []Side{Buy, Sell} {
		for _, c := range b.cursors(side) {
			if err := c.Persist(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Empty reports whether no order rests on either side.
func (b *Book) Empty() (bool, error) {
	for _, side := range []Side{Buy, Sell} {
		c, err := b.Best(side)
		if err != nil {
			return false, err
		}
		if c != nil {
			return false, nil
		}
	}
	return true, nil
}

// Levels aggregates resting limit orders of one side into price levels in
// match order (bids high to low, asks low to high). maxLevels <= 0 means
// no limit.
func Levels(t Table, pairID uint64, side Side, maxLevels int) ([]PriceLevel, error) {
	var levels []PriceLevel
	err := t.ScanOrders(pairID, side, func(o *Order) bool {
		if o.Type != Limit {
			return true
		}
		n := len(levels)
		if n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Base += o.RemainingBase()
			levels[n-1].Orders++
			return true
		}
		if maxLevels > 0 && n == maxLevels {
			return false
		}
		levels = append(levels, PriceLevel{Price: o.Price, Base: o.RemainingBase(), Orders: 1})
		return true
	})
	return levels, err
}
