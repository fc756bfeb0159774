// Package settlement is the boundary to the fungible-token transfer
// mechanism. The exchange only ever asks a Bank to move funds out of its
// custody account; deposits arrive as notifications.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Transfer kinds.
const (
	KindDeposit    = "deposit"
	KindSettlement = "settlement"
	KindRefund     = "refund"
	KindCancel     = "cancel"
	KindWithdraw   = "withdraw"
)

// Transfer moves Amount of Denom between two accounts.
type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Denom  asset.Denom    `json:"denom"`
	Amount int64          `json:"amount"`
	Memo   string         `json:"memo"`
	Kind   string         `json:"kind"`
}

// Bank executes transfers.
type Bank interface {
	Transfer(ctx context.Context, t Transfer) error
}

// MemoryBank is an in-process token ledger used by the single-node devnet
// and by tests. Receivers registered with Watch are told about every
// transfer credited to them, which is how deposits reach the exchange.
type MemoryBank struct {
	mu       sync.RWMutex
	balances map[common.Address]map[string]int64 // address -> denom key -> amount
	watchers map[common.Address][]func(Transfer)
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[common.Address]map[string]int64),
		watchers: make(map[common.Address][]func(Transfer)),
	}
}

// Watch registers fn to be called after each transfer credited to addr.
func (b *MemoryBank) Watch(addr common.Address, fn func(Transfer)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[addr] = append(b.watchers[addr], fn)
}

// Mint credits new funds to addr (devnet faucet).
func (b *MemoryBank) Mint(addr common.Address, d asset.Denom, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d: %w", amount, dexerr.ErrInvalidParam)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creditLocked(addr, d, amount)
}

func (b *MemoryBank) creditLocked(addr common.Address, d asset.Denom, amount int64) error {
	acc := b.balances[addr]
	if acc == nil {
		acc = make(map[string]int64)
		b.balances[addr] = acc
	}
	sum, err := decmath.Add(acc[d.Key()], amount)
	if err != nil {
		return err
	}
	acc[d.Key()] = sum
	return nil
}

// Transfer moves funds, failing on insufficient balance.
func (b *MemoryBank) Transfer(_ context.Context, t Transfer) error {
	if t.Amount <= 0 {
		return fmt.Errorf("transfer amount must be positive: %d: %w", t.Amount, dexerr.ErrInvalidParam)
	}
	if t.From == t.To {
		return fmt.Errorf("cannot transfer to self: %w", dexerr.ErrInvalidParam)
	}

	b.mu.Lock()
	have := b.balances[t.From][t.Denom.Key()]
	if have < t.Amount {
		b.mu.Unlock()
		return fmt.Errorf("insufficient %s balance of %s: have %d, need %d: %w",
			t.Denom.Symbol, t.From.Hex(), have, t.Amount, dexerr.ErrInvalidParam)
	}
	if err := b.creditLocked(t.To, t.Denom, t.Amount); err != nil {
		b.mu.Unlock()
		return err
	}
	b.balances[t.From][t.Denom.Key()] = have - t.Amount
	watchers := append([]func(Transfer){}, b.watchers[t.To]...)
	b.mu.Unlock()

	for _, fn := range watchers {
		fn(t)
	}
	return nil
}

// BalanceOf returns the balance of addr in denomination d.
func (b *MemoryBank) BalanceOf(addr common.Address, d asset.Denom) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr][d.Key()]
}

var _ Bank = (*MemoryBank)(nil)
