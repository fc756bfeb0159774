package pair

import (
	"fmt"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Store is the persistence surface the registry needs. Lookups return
// nil (and false) without error when the record is absent.
type Store interface {
	GetPair(id uint64) (*TradingPair, error)
	FindPair(base, quote asset.Denom) (uint64, bool, error)
	PutPair(p *TradingPair) error
	DeletePair(p *TradingPair) error
	ListPairs() ([]*TradingPair, error)
}

// IDAllocator hands out pair identifiers.
type IDAllocator interface {
	NextPairID() uint64
}

// Registry maps pair identifiers to trading pairs on top of a Store.
// It holds no state of its own; one Registry is built per call.
type Registry struct {
	store Store
}

func NewRegistry(s Store) *Registry {
	return &Registry{store: s}
}

// Lookup returns the pair regardless of its enabled flag.
func (r *Registry) Lookup(id uint64) (*TradingPair, error) {
	p, err := r.store.GetPair(id)
	if err != nil {
		return nil, fmt.Errorf("load pair %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("pair %d: %w", id, dexerr.ErrNotFound)
	}
	return p, nil
}

// Get returns an enabled pair.
func (r *Registry) Get(id uint64) (*TradingPair, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !p.Enabled {
		return nil, fmt.Errorf("pair %d: %w", id, dexerr.ErrDisabled)
	}
	return p, nil
}

// Find looks a pair up by its ordered denominations.
func (r *Registry) Find(base, quote asset.Denom) (*TradingPair, error) {
	id, ok, err := r.store.FindPair(base, quote)
	if err != nil {
		return nil, fmt.Errorf("find pair %s/%s: %w", base.Symbol, quote.Symbol, err)
	}
	if !ok {
		return nil, fmt.Errorf("pair %s/%s: %w", base.Symbol, quote.Symbol, dexerr.ErrNotFound)
	}
	return r.Lookup(id)
}

// Register creates a pair, or updates the parameters of an existing pair
// with the same ordered denominations. A pair whose reverse already exists
// is rejected. The boolean reports whether a new pair was created.
func (r *Registry) Register(spec Spec, ids IDAllocator, now int64) (*TradingPair, bool, error) {
	if err := spec.Validate(); err != nil {
		return nil, false, err
	}

	if _, found, err := r.store.FindPair(spec.Quote, spec.Base); err != nil {
		return nil, false, err
	} else if found {
		return nil, false, fmt.Errorf("reverse pair %s/%s exists: %w", spec.Quote.Symbol, spec.Base.Symbol, dexerr.ErrConflict)
	}

	existingID, found, err := r.store.FindPair(spec.Base, spec.Quote)
	if err != nil {
		return nil, false, err
	}

	if found {
		p, err := r.Lookup(existingID)
		if err != nil {
			return nil, false, err
		}
		if p.Base.Precision != spec.Base.Precision || p.Quote.Precision != spec.Quote.Precision {
			return nil, false, fmt.Errorf("precision of pair %d cannot change: %w", p.ID, dexerr.ErrInvalidParam)
		}
		p.MinBase, p.MinQuote = spec.MinBase, spec.MinQuote
		p.TakerFeeRatio, p.MakerFeeRatio = spec.TakerFeeRatio, spec.MakerFeeRatio
		p.FeeInQuote = spec.FeeInQuote
		p.Enabled = spec.Enabled
		if err := r.store.PutPair(p); err != nil {
			return nil, false, err
		}
		return p, false, nil
	}

	p := &TradingPair{
		ID:            ids.NextPairID(),
		Base:          spec.Base,
		Quote:         spec.Quote,
		MinBase:       spec.MinBase,
		MinQuote:      spec.MinQuote,
		TakerFeeRatio: spec.TakerFeeRatio,
		MakerFeeRatio: spec.MakerFeeRatio,
		FeeInQuote:    spec.FeeInQuote,
		Enabled:       spec.Enabled,
		CreatedAt:     now,
	}
	if existing, err := r.store.GetPair(p.ID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return nil, false, fmt.Errorf("pair id %d already allocated: %w", p.ID, dexerr.ErrConflict)
	}
	if err := r.store.PutPair(p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// SetEnabled flips the trading flag of a pair.
func (r *Registry) SetEnabled(id uint64, enabled bool) (*TradingPair, error) {
	p, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	if p.Enabled == enabled {
		return p, nil
	}
	p.Enabled = enabled
	if err := r.store.PutPair(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Remove deletes a pair. Only disabled pairs may be removed; callers are
// responsible for checking that no orders rest on it.
func (r *Registry) Remove(id uint64) error {
	p, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if p.Enabled {
		return fmt.Errorf("pair %d must be disabled before removal: %w", id, dexerr.ErrConflict)
	}
	return r.store.DeletePair(p)
}

// RecordPrice stores the latest deal price of a pair.
func (r *Registry) RecordPrice(p *TradingPair, price int64) error {
	if price <= 0 || p.LatestPrice == price {
		return nil
	}
	p.LatestPrice = price
	return r.store.PutPair(p)
}

// List returns all pairs ordered by id.
func (r *Registry) List() ([]*TradingPair, error) {
	return r.store.ListPairs()
}
