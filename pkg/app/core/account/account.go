package account

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Balance is an accrued amount of one denomination.
type Balance struct {
	Denom  asset.Denom `json:"denom"`
	Amount int64       `json:"amount"`
}

// Rewards holds fee-derived payouts (collector share, referral shares)
// accrued by an account and not yet withdrawn.
type Rewards struct {
	Owner    common.Address `json:"owner"`
	Balances []Balance      `json:"balances"` // sorted by denom key
}

func NewRewards(owner common.Address) *Rewards {
	return &Rewards{Owner: owner}
}

func (r *Rewards) find(d asset.Denom) (int, bool) {
	key := d.Key()
	i := sort.Search(len(r.Balances), func(i int) bool { return r.Balances[i].Denom.Key() >= key })
	return i, i < len(r.Balances) && r.Balances[i].Denom.Key() == key
}

// Of returns the accrued amount of a denomination.
func (r *Rewards) Of(d asset.Denom) int64 {
	if i, ok := r.find(d); ok {
		return r.Balances[i].Amount
	}
	return 0
}

// Credit accrues amount.
func (r *Rewards) Credit(d asset.Denom, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit must be positive, got %d: %w", amount, dexerr.ErrInvalidParam)
	}
	i, ok := r.find(d)
	if !ok {
		r.Balances = append(r.Balances, Balance{})
		copy(r.Balances[i+1:], r.Balances[i:])
		r.Balances[i] = Balance{Denom: d, Amount: amount}
		return nil
	}
	sum, err := decmath.Add(r.Balances[i].Amount, amount)
	if err != nil {
		return fmt.Errorf("reward %s of %s: %w", d.Symbol, r.Owner.Hex(), err)
	}
	r.Balances[i].Amount = sum
	return nil
}

// Debit withdraws amount. Entries that reach zero are removed.
func (r *Rewards) Debit(d asset.Denom, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdrawal must be positive, got %d: %w", amount, dexerr.ErrInvalidParam)
	}
	i, ok := r.find(d)
	if !ok {
		return fmt.Errorf("no %s reward for %s: %w", d.Symbol, r.Owner.Hex(), dexerr.ErrNotFound)
	}
	if r.Balances[i].Amount < amount {
		return fmt.Errorf("overdrawn %s reward: have %d, want %d: %w", d.Symbol, r.Balances[i].Amount, amount, dexerr.ErrInvalidParam)
	}
	r.Balances[i].Amount -= amount
	if r.Balances[i].Amount == 0 {
		r.Balances = append(r.Balances[:i], r.Balances[i+1:]...)
	}
	return nil
}

// Empty reports whether nothing is left to withdraw.
func (r *Rewards) Empty() bool { return len(r.Balances) == 0 }
