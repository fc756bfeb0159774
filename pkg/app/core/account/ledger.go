package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

// RewardStore persists Rewards. GetRewards returns nil without error when
// the owner has none; PutRewards deletes the record once it is empty.
type RewardStore interface {
	GetRewards(owner common.Address) (*Rewards, error)
	PutRewards(r *Rewards) error
}

// Ledger is the RewardLedger: accrual and withdrawal on top of a store.
type Ledger struct {
	store RewardStore
}

func NewLedger(s RewardStore) *Ledger {
	return &Ledger{store: s}
}

// Load returns the rewards of owner, never nil.
func (l *Ledger) Load(owner common.Address) (*Rewards, error) {
	r, err := l.store.GetRewards(owner)
	if err != nil {
		return nil, fmt.Errorf("load rewards of %s: %w", owner.Hex(), err)
	}
	if r == nil {
		r = NewRewards(owner)
	}
	return r, nil
}

// Credit accrues amount to owner.
func (l *Ledger) Credit(owner common.Address, d asset.Denom, amount int64) error {
	r, err := l.Load(owner)
	if err != nil {
		return err
	}
	if err := r.Credit(d, amount); err != nil {
		return err
	}
	return l.store.PutRewards(r)
}

// Debit withdraws amount from owner.
func (l *Ledger) Debit(owner common.Address, d asset.Denom, amount int64) error {
	r, err := l.Load(owner)
	if err != nil {
		return err
	}
	if err := r.Debit(d, amount); err != nil {
		return err
	}
	return l.store.PutRewards(r)
}
