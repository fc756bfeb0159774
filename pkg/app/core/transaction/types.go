package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
)

// CallType names an entry point of the exchange
type CallType string

const (
	TypeRegisterPair     CallType = "register_pair"     // admin
	TypeSetPairEnabled   CallType = "set_pair_enabled"  // admin
	TypeRemovePair       CallType = "remove_pair"       // admin
	TypeSubmitOrder      CallType = "submit_order"      // owner (+admin on fee override)
	TypeConfirmDeposit   CallType = "confirm_deposit"   // token collaborator notification
	TypeMatchPair        CallType = "match_pair"        // anyone
	TypeMatchAll         CallType = "match_all"         // anyone
	TypeCancelOrder      CallType = "cancel_order"      // order owner
	TypeCancelQueued     CallType = "cancel_queued"     // owner
	TypeWithdrawReward   CallType = "withdraw_reward"   // owner
	TypeContinueMatching CallType = "continue_matching" // dex account only
)

// Known reports whether t is a call type the exchange handles.
func (t CallType) Known() bool {
	switch t {
	case TypeRegisterPair, TypeSetPairEnabled, TypeRemovePair, TypeSubmitOrder,
		TypeConfirmDeposit, TypeMatchPair, TypeMatchAll, TypeCancelOrder,
		TypeCancelQueued, TypeWithdrawReward, TypeContinueMatching:
		return true
	}
	return false
}

// Call is the envelope every entry point is invoked with. Signers are the
// accounts the host has already authenticated for this call.
type Call struct {
	ID      string           `json:"id"`
	Type    CallType         `json:"type"`
	Signers []common.Address `json:"signers"`
	Payload json.RawMessage  `json:"payload"`
}

// RegisterPair creates or updates a pair.
type RegisterPair struct {
	pair.Spec
}

type SetPairEnabled struct {
	PairID  uint64 `json:"pair_id"`
	Enabled bool   `json:"enabled"`
}

type RemovePair struct {
	PairID uint64 `json:"pair_id"`
}

// FeeOverride replaces the pair's fee ratios for one order. It requires an
// admin co-signature.
type FeeOverride struct {
	TakerFeeRatio int64 `json:"taker_fee_ratio"`
	MakerFeeRatio int64 `json:"maker_fee_ratio"`
}

// SubmitOrder stages an order. Quantity is base for LIMIT and MARKET SELL
// orders and the quote to spend for MARKET BUY orders.
type SubmitOrder struct {
	Owner       common.Address      `json:"owner"`
	PairID      uint64              `json:"pair_id"`
	Side        orderbook.Side      `json:"side"`
	Type        orderbook.OrderType `json:"type"`
	Quantity    int64               `json:"quantity"`
	Price       int64               `json:"price"`
	ExternalID  string              `json:"external_id"`
	FeeOverride *FeeOverride        `json:"fee_override,omitempty"`
}

// ConfirmDeposit reports a transfer credited to the dex account.
type ConfirmDeposit struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Denom  asset.Denom    `json:"denom"`
	Amount int64          `json:"amount"`
	Memo   string         `json:"memo"`
}

type MatchPair struct {
	Invoker  common.Address `json:"invoker"`
	PairID   uint64         `json:"pair_id"`
	MaxSteps int            `json:"max_steps"`
	Note     string         `json:"note"`
}

type MatchAll struct {
	Invoker  common.Address `json:"invoker"`
	MaxSteps int            `json:"max_steps"`
	Note     string         `json:"note"`
}

type CancelOrder struct {
	PairID  uint64         `json:"pair_id"`
	Side    orderbook.Side `json:"side"`
	OrderID uint64         `json:"order_id"`
}

// CancelQueued drops the owner's staged order.
type CancelQueued struct {
	Owner common.Address `json:"owner"`
}

type WithdrawReward struct {
	Owner  common.Address `json:"owner"`
	Denom  asset.Denom    `json:"denom"`
	Amount int64          `json:"amount"`
}

type ContinueMatching struct {
	MaxSteps int `json:"max_steps"`
}

// New builds a call with payload encoded as JSON.
func New(id string, typ CallType, signers []common.Address, payload any) (*Call, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return &Call{ID: id, Type: typ, Signers: signers, Payload: raw}, nil
}

// Serialize converts the call to JSON bytes
func (c *Call) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// Deserialize parses JSON bytes into a Call
func Deserialize(data []byte) (*Call, error) {
	var c Call
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &c, nil
}

// Validate performs basic validation on the envelope
func (c *Call) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("missing call type: %w", dexerr.ErrInvalidParam)
	}
	if !c.Type.Known() {
		return fmt.Errorf("unknown call type %q: %w", c.Type, dexerr.ErrInvalidParam)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("%s call without payload: %w", c.Type, dexerr.ErrInvalidParam)
	}
	return nil
}

// Decode unmarshals the payload into v.
func (c *Call) Decode(v any) error {
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", c.Type, err, dexerr.ErrInvalidParam)
	}
	return nil
}

// SignedBy reports whether addr authenticated the call.
func (c *Call) SignedBy(addr common.Address) bool {
	for _, s := range c.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// Parse decodes and validates a raw call.
func Parse(data []byte) (*Call, error) {
	c, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse call: %v: %w", err, dexerr.ErrInvalidParam)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid call: %w", err)
	}
	return c, nil
}

// Example envelope:
//   {
//     "id": "7f9c2b1e-...",
//     "type": "submit_order",
//     "signers": ["0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"],
//     "payload": {
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "pair_id": 1,
//       "side": 1,
//       "type": 1,
//       "quantity": 500000,
//       "price": 200000000,
//       "external_id": "client-42"
//     }
//   }
