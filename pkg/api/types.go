package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/pair"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are rendered twice: as fixed-point strings in the token's
// precision and as the raw integers the exchange stores.

// ==============================
// REST Response Types
// ==============================

// PairInfo represents a trading pair's configuration
type PairInfo struct {
	ID            uint64      `json:"id"`
	Symbol        string      `json:"symbol"` // e.g., "EOS/USDT"
	Base          asset.Denom `json:"base"`
	Quote         asset.Denom `json:"quote"`
	MinBase       string      `json:"minBase"`
	MinQuote      string      `json:"minQuote"`
	TakerFeeRatio int64       `json:"takerFeeRatio"` // 0 = exchange default
	MakerFeeRatio int64       `json:"makerFeeRatio"`
	FeeInQuote    bool        `json:"feeInQuote"`
	LatestPrice   string      `json:"latestPrice"`
	Enabled       bool        `json:"enabled"`
}

func newPairInfo(p *pair.TradingPair) PairInfo {
	return PairInfo{
		ID:            p.ID,
		Symbol:        p.Symbol(),
		Base:          p.Base,
		Quote:         p.Quote,
		MinBase:       p.Base.Format(p.MinBase),
		MinQuote:      p.Quote.Format(p.MinQuote),
		TakerFeeRatio: p.TakerFeeRatio,
		MakerFeeRatio: p.MakerFeeRatio,
		FeeInQuote:    p.FeeInQuote,
		LatestPrice:   p.Quote.Format(p.LatestPrice),
		Enabled:       p.Enabled,
	}
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	PairID    uint64       `json:"pairId"`
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"` // Sorted high to low
	Asks      []PriceLevel `json:"asks"` // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel aggregates resting base at one price
type PriceLevel struct {
	Price    string `json:"price"`
	Size     string `json:"size"`
	PriceRaw int64  `json:"priceRaw"`
	SizeRaw  int64  `json:"sizeRaw"`
	Orders   int    `json:"orders"`
}

func newPriceLevels(p *pair.TradingPair, levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{
			Price:    p.Quote.Format(l.Price),
			Size:     p.Base.Format(l.Base),
			PriceRaw: l.Price,
			SizeRaw:  l.Base,
			Orders:   l.Orders,
		}
	}
	return out
}

// TradeInfo represents an executed trade
type TradeInfo struct {
	ID        uint64 `json:"id"`
	PairID    uint64 `json:"pairId"`
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Value     string `json:"value"` // quote exchanged
	Side      string `json:"side"`  // taker side: "BUY" or "SELL"
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	BuyFee    string `json:"buyFee"`
	SellFee   string `json:"sellFee"`
	Memo      string `json:"memo,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

func newTradeInfo(p *pair.TradingPair, t *orderbook.Trade) TradeInfo {
	buyFeeDenom := p.Base
	if t.BuyFeeInQuote {
		buyFeeDenom = p.Quote
	}
	return TradeInfo{
		ID:        t.ID,
		PairID:    t.PairID,
		Symbol:    p.Symbol(),
		Price:     p.Quote.Format(t.Price),
		Size:      p.Base.Format(t.Base),
		Value:     p.Quote.Format(t.Quote),
		Side:      t.TakerSide.String(),
		Buyer:     t.Buyer.Hex(),
		Seller:    t.Seller.Hex(),
		BuyFee:    buyFeeDenom.Format(t.BuyFee),
		SellFee:   p.Quote.Format(t.SellFee),
		Memo:      t.Memo,
		Timestamp: t.Time,
	}
}

// OrderInfo represents a resting order
type OrderInfo struct {
	ID         uint64 `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	PairID     uint64 `json:"pairId"`
	Owner      string `json:"owner"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price"`
	Requested  string `json:"requested"` // base; zero for a market buy
	Frozen     string `json:"frozen"`    // quote for buys, base for sells
	Filled     string `json:"filled"`
	FilledRaw  int64  `json:"filledRaw"`
	Spent      string `json:"spent"` // quote matched
	Fee        string `json:"fee"`
	Timestamp  int64  `json:"timestamp"`
}

func newOrderInfo(p *pair.TradingPair, o *orderbook.Order) OrderInfo {
	frozen := p.Base
	if o.Side == orderbook.Buy {
		frozen = p.Quote
	}
	feeDenom := p.Quote
	if !o.FeeChargedInQuote() {
		feeDenom = p.Base
	}
	return OrderInfo{
		ID:         o.ID,
		ExternalID: o.ExternalID,
		PairID:     o.PairID,
		Owner:      o.Owner.Hex(),
		Side:       o.Side.String(),
		Type:       o.Type.String(),
		Price:      p.Quote.Format(o.Price),
		Requested:  p.Base.Format(o.RequestedBase),
		Frozen:     frozen.Format(o.FrozenQuant),
		Filled:     p.Base.Format(o.MatchedBase),
		FilledRaw:  o.MatchedBase,
		Spent:      p.Quote.Format(o.MatchedQuote),
		Fee:        feeDenom.Format(o.MatchedFee),
		Timestamp:  o.CreatedAt,
	}
}

// QueuedInfo represents an order waiting for its deposit
type QueuedInfo struct {
	QueueID    uint64      `json:"queueId"`
	ExternalID string      `json:"externalId,omitempty"`
	PairID     uint64      `json:"pairId"`
	Side       string      `json:"side"`
	Type       string      `json:"type"`
	PriceRaw   int64       `json:"priceRaw"`
	Deposit    string      `json:"deposit"` // amount to send to the dex account
	DepositRaw int64       `json:"depositRaw"`
	Denom      asset.Denom `json:"denom"`
	DepositTo  string      `json:"depositTo"`
	Timestamp  int64       `json:"timestamp"`
}

func newQueuedInfo(q *orderbook.QueuedOrder, dexAccount common.Address) QueuedInfo {
	return QueuedInfo{
		QueueID:    q.QueueID,
		ExternalID: q.ExternalID,
		PairID:     q.PairID,
		Side:       q.Side.String(),
		Type:       q.Type.String(),
		PriceRaw:   q.Price,
		Deposit:    q.FrozenDenom.Format(q.FrozenQuant),
		DepositRaw: q.FrozenQuant,
		Denom:      q.FrozenDenom,
		DepositTo:  dexAccount.Hex(),
		Timestamp:  q.CreatedAt,
	}
}

// RewardInfo represents one accrued reward balance
type RewardInfo struct {
	Denom     asset.Denom `json:"denom"`
	Amount    string      `json:"amount"`
	AmountRaw int64       `json:"amountRaw"`
}

func newRewardInfos(r *account.Rewards) []RewardInfo {
	out := make([]RewardInfo, len(r.Balances))
	for i, b := range r.Balances {
		out[i] = RewardInfo{Denom: b.Denom, Amount: b.Denom.Format(b.Amount), AmountRaw: b.Amount}
	}
	return out
}

// BalanceInfo is a devnet token balance
type BalanceInfo struct {
	Address   string      `json:"address"`
	Denom     asset.Denom `json:"denom"`
	Amount    string      `json:"amount"`
	AmountRaw int64       `json:"amountRaw"`
}

// ChainStatus represents block production and continuation state
type ChainStatus struct {
	Height        int64    `json:"height"`
	AppHash       string   `json:"appHash"`
	Enabled       bool     `json:"enabled"`
	MempoolSize   int      `json:"mempoolSize"`   // Pending calls
	PendingOrders int      `json:"pendingOrders"` // Pending submit_order calls
	Deferred      int      `json:"deferred"`      // Scheduled continuation calls
	Armed         bool     `json:"armed"`
	Outstanding   []uint64 `json:"outstanding"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:1", "trades:1"]
}

// OrderbookUpdate is broadcast after blocks that carried calls
type OrderbookUpdate struct {
	Type string `json:"type"` // "orderbook"
	OrderbookSnapshot
	Height int64 `json:"height"`
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type string `json:"type"` // "trade"
	TradeInfo
}

// ==============================
// REST Request Types
// ==============================

// SubmitCallRequest is the payload for POST /api/v1/calls. An empty ID is
// assigned by the server. Each signature recovers one signer over the
// call's id, type and payload. Declared Signers and X-Account are only
// honoured when the server trusts them.
type SubmitCallRequest struct {
	ID         string               `json:"id,omitempty"`
	Type       transaction.CallType `json:"type"`
	Signers    []common.Address     `json:"signers,omitempty"`
	Signatures []string             `json:"signatures,omitempty"` // 0x-prefixed [R || S || V]
	Payload    json.RawMessage      `json:"payload"`
}

// SubmitCallResponse is the response from call submission
type SubmitCallResponse struct {
	Status string `json:"status"` // "submitted"
	CallID string `json:"callId"`
}

// DevTransferRequest is the payload for the devnet mint and transfer
// routes. Amount is a decimal string in the denomination's precision.
type DevTransferRequest struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Denom  asset.Denom    `json:"denom"`
	Amount string         `json:"amount"`
	Memo   string         `json:"memo"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
