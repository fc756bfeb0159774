// Package dex is the exchange application: it executes calls against the
// order store one at a time, each inside its own storage transaction, and
// releases token transfers and trade notifications only after commit.
package dex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/abci"
	"github.com/uhyunpark/hyperdex/pkg/app/core/account"
	"github.com/uhyunpark/hyperdex/pkg/app/core/continuation"
	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperdex/pkg/notify"
	"github.com/uhyunpark/hyperdex/pkg/settlement"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

// defaultContinuationSteps bounds continuation rounds when matching on
// admission is switched off.
const defaultContinuationSteps = 20

type Options struct {
	Config    params.Dex
	Store     storage.Store
	Bank      settlement.Bank
	Sink      notify.TradeSink   // optional
	Journal   storage.Journal    // optional
	Directory account.Directory  // optional, defaults to Config.Referrals
	Logger    *zap.SugaredLogger // optional
	Clock     util.Clock         // optional
	Mempool   *mempool.Mempool   // optional
}

// Receipt reports what a successful call did.
type Receipt struct {
	CallID  string               `json:"call_id"`
	Type    transaction.CallType `json:"type"`
	PairID  uint64               `json:"pair_id,omitempty"`
	QueueID uint64               `json:"queue_id,omitempty"`
	OrderID uint64               `json:"order_id,omitempty"`
	Trades  []*orderbook.Trade   `json:"trades,omitempty"`
	Paused  bool                 `json:"paused,omitempty"`
}

type deferredCall struct {
	due time.Time
	raw []byte
}

type App struct {
	cfg       params.Dex
	store     storage.Store
	bank      settlement.Bank
	sink      notify.TradeSink
	journal   storage.Journal
	directory account.Directory
	scheduler *continuation.Scheduler
	mempool   *mempool.Mempool
	clock     util.Clock
	log       *zap.SugaredLogger

	// mu serializes call execution.
	mu       sync.Mutex
	deferred []deferredCall

	stateMu  sync.RWMutex
	height   int64
	lastHash abci.Hash
}

func New(opts Options) (*App, error) {
	if opts.Store == nil || opts.Bank == nil {
		return nil, errors.New("dex: store and bank are required")
	}
	a := &App{
		cfg:       opts.Config,
		store:     opts.Store,
		bank:      opts.Bank,
		sink:      opts.Sink,
		journal:   opts.Journal,
		directory: opts.Directory,
		mempool:   opts.Mempool,
		clock:     opts.Clock,
		log:       opts.Logger,
	}
	if a.journal == nil {
		a.journal = storage.NewNopJournal()
	}
	if a.clock == nil {
		a.clock = util.RealClock{}
	}
	if a.log == nil {
		a.log = zap.NewNop().Sugar()
	}
	if a.mempool == nil {
		a.mempool = mempool.NewMempool()
	}
	if a.directory == nil {
		dir, err := account.ParseReferrals(opts.Config.Referrals)
		if err != nil {
			return nil, fmt.Errorf("dex: referrals: %w", err)
		}
		a.directory = dir
	}
	if err := a.allocator(nil).Validate(); err != nil {
		return nil, fmt.Errorf("dex: %w", err)
	}

	steps := a.cfg.MaxMatchCount
	if steps <= 0 {
		steps = defaultContinuationSteps
	}
	a.scheduler = continuation.New(a.cfg.DeferredMatching, steps)

	if err := a.resume(); err != nil {
		return nil, err
	}
	return a, nil
}

// resume re-dispatches a continuation that was in flight when the
// process stopped.
func (a *App) resume() error {
	tx := a.store.Begin()
	defer tx.Discard()
	g, err := tx.LoadGlobal()
	if err != nil {
		return fmt.Errorf("dex: load global state: %w", err)
	}
	if a.scheduler.Resume(g) {
		a.log.Infow("continuation_resumed", "outstanding", g.OutstandingPairs())
		return a.schedule(a.scheduler.Next(a.clock.Now()))
	}
	return nil
}

// Account is the custody account deposits are sent to.
func (a *App) Account() common.Address { return a.cfg.Account }

// Submit validates a client call and queues it for the next block.
func (a *App) Submit(c *transaction.Call) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := c.Serialize()
	if err != nil {
		return err
	}
	a.mempool.PushRaw(b)
	return nil
}

// PushTx queues a raw call without validation.
func (a *App) PushTx(b []byte) { a.mempool.PushRaw(b) }

// WatchDeposits turns every transfer into the custody account into a
// confirm_deposit call.
func (a *App) WatchDeposits(b *settlement.MemoryBank) {
	b.Watch(a.cfg.Account, func(t settlement.Transfer) {
		if t.From == a.cfg.Account {
			return
		}
		c, err := transaction.New(uuid.NewString(), transaction.TypeConfirmDeposit,
			[]common.Address{a.cfg.Account},
			transaction.ConfirmDeposit{From: t.From, To: t.To, Denom: t.Denom, Amount: t.Amount, Memo: t.Memo})
		if err != nil {
			a.log.Errorw("deposit_call_failed", "from", t.From.Hex(), "err", err)
			return
		}
		if err := a.Submit(c); err != nil {
			a.log.Errorw("deposit_call_failed", "from", t.From.Hex(), "err", err)
		}
	})
}

// Apply executes one call atomically. On error nothing it did is kept and
// no transfer leaves custody.
func (a *App) Apply(c *transaction.Call, now time.Time) (*Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply(c, now)
}

func (a *App) apply(c *transaction.Call, now time.Time) (*Receipt, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	tx := a.store.Begin()
	defer tx.Discard()

	g, err := tx.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("load global state: %w", err)
	}

	ctx := a.newCallCtx(c, tx, g, now)
	rcpt := &Receipt{CallID: c.ID, Type: c.Type}
	if err := a.dispatch(ctx, rcpt); err != nil {
		if dexerr.Fatal(err) {
			a.log.Errorw("call_invariant_broken", "call", c.ID, "type", c.Type, "err", err)
		}
		return nil, err
	}

	if err := tx.SaveGlobal(g); err != nil {
		return nil, fmt.Errorf("save global state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit call %s: %w", c.ID, err)
	}

	a.release(ctx.fx)
	return rcpt, nil
}

func (a *App) dispatch(ctx *callCtx, rcpt *Receipt) error {
	switch ctx.call.Type {
	case transaction.TypeRegisterPair:
		return a.registerPair(ctx, rcpt)
	case transaction.TypeSetPairEnabled:
		return a.setPairEnabled(ctx, rcpt)
	case transaction.TypeRemovePair:
		return a.removePair(ctx, rcpt)
	case transaction.TypeSubmitOrder:
		return a.submitOrder(ctx, rcpt)
	case transaction.TypeConfirmDeposit:
		return a.confirmDeposit(ctx, rcpt)
	case transaction.TypeMatchPair:
		return a.matchPair(ctx, rcpt)
	case transaction.TypeMatchAll:
		return a.matchAll(ctx, rcpt)
	case transaction.TypeCancelOrder:
		return a.cancelOrder(ctx, rcpt)
	case transaction.TypeCancelQueued:
		return a.cancelQueued(ctx, rcpt)
	case transaction.TypeWithdrawReward:
		return a.withdrawReward(ctx, rcpt)
	case transaction.TypeContinueMatching:
		return a.continueMatching(ctx, rcpt)
	default:
		return fmt.Errorf("call type %q: %w", ctx.call.Type, dexerr.ErrInvalidParam)
	}
}

// release performs the side effects of a committed call. Failures here
// cannot roll the call back, so they are logged for reconciliation.
func (a *App) release(fx *effects) {
	ctx := context.Background()
	for _, t := range fx.transfers {
		if err := a.bank.Transfer(ctx, t); err != nil {
			a.log.Errorw("transfer_failed",
				"to", t.To.Hex(),
				"denom", t.Denom.Key(),
				"amount", t.Amount,
				"kind", t.Kind,
				"memo", t.Memo,
				"err", err)
		}
	}
	if a.sink != nil {
		for _, tr := range fx.trades {
			if err := a.sink.PublishTrade(ctx, tr); err != nil {
				a.log.Warnw("trade_publish_failed", "trade", tr.ID, "err", err)
			}
		}
	}
	if fx.continuation != nil {
		if err := a.schedule(*fx.continuation); err != nil {
			a.log.Errorw("continuation_schedule_failed", "err", err)
		}
	}
}

// schedule queues a continue_matching call for delivery at d.Due.
func (a *App) schedule(d continuation.Dispatch) error {
	c, err := transaction.New(uuid.NewString(), transaction.TypeContinueMatching,
		[]common.Address{a.cfg.Account}, transaction.ContinueMatching{MaxSteps: d.MaxSteps})
	if err != nil {
		return err
	}
	raw, err := c.Serialize()
	if err != nil {
		return err
	}
	a.deferred = append(a.deferred, deferredCall{due: d.Due, raw: raw})
	a.log.Infow("continuation_scheduled", "call", c.ID, "due", d.Due.UnixMilli(), "max_steps", d.MaxSteps)
	return nil
}

// takeDue removes deferred calls due at now, in due order.
func (a *App) takeDue(now time.Time) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [][]byte
	kept := a.deferred[:0]
	for _, d := range a.deferred {
		if !d.due.After(now) {
			out = append(out, d.raw)
			continue
		}
		kept = append(kept, d)
	}
	a.deferred = kept
	return out
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.takeDue(time.UnixMilli(req.Timestamp))
	budget := req.MaxTxBytes
	for _, tx := range txs {
		budget -= int64(len(tx))
	}
	if req.MaxTxBytes <= 0 || budget > 0 {
		txs = append(txs, a.mempool.SelectForProposal(budget)...)
	}
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	now := time.UnixMilli(req.Timestamp)
	results := make([]abci.TxResult, 0, len(req.Txs))
	totalTrades := 0

	for _, raw := range req.Txs {
		res := a.finalizeTx(req.Height, raw, now)
		totalTrades += res.Trades
		results = append(results, res)
	}

	appHash, err := a.computeStateHash(req.Height, req.Timestamp)
	if err != nil {
		a.log.Errorw("state_hash_failed", "height", req.Height, "err", err)
	}

	a.stateMu.Lock()
	a.height = req.Height
	a.lastHash = appHash
	a.stateMu.Unlock()

	// Quiet logging: only log non-empty blocks
	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"trades", totalTrades,
			"app_hash", fmt.Sprintf("0x%x", appHash[:]))
	}

	return abci.ResponseFinalizeBlock{
		Events:    []string{"commit"},
		TxResults: results,
		AppHash:   appHash,
	}
}

func (a *App) finalizeTx(height int64, raw []byte, now time.Time) abci.TxResult {
	c, err := transaction.Parse(raw)
	if err != nil {
		a.log.Warnw("call_rejected", "height", height, "err", err)
		return abci.TxResult{Code: dexerr.Code(err), Log: err.Error()}
	}

	a.mu.Lock()
	rcpt, err := a.apply(c, now)
	if err != nil && c.Type == transaction.TypeContinueMatching && !dexerr.Fatal(err) {
		// The armed flag is still set; resubmit so it is eventually cleared.
		if serr := a.schedule(a.scheduler.Next(now)); serr != nil {
			a.log.Errorw("continuation_schedule_failed", "err", serr)
		}
	}
	a.mu.Unlock()

	entry := storage.JournalEntry{
		Height: uint64(height),
		CallID: c.ID,
		Type:   string(c.Type),
		OK:     err == nil,
		Time:   now.UnixMilli(),
	}
	res := abci.TxResult{CallID: c.ID, Code: "ok"}
	if err != nil {
		entry.Error = err.Error()
		res.Code, res.Log = dexerr.Code(err), err.Error()
		a.log.Infow("call_failed", "call", c.ID, "type", c.Type, "code", res.Code, "err", err)
	} else {
		entry.Trades = len(rcpt.Trades)
		res.Trades = len(rcpt.Trades)
	}
	if jerr := a.journal.Append(entry); jerr != nil {
		a.log.Errorw("journal_append_failed", "call", c.ID, "err", jerr)
	}
	return res
}

// computeStateHash is a keccak digest over height, timestamp, the global
// counters and, per pair in id order, its latest price and both sides'
// price levels.
func (a *App) computeStateHash(height, timestamp int64) (abci.Hash, error) {
	var out abci.Hash
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	put(uint64(height))
	put(uint64(timestamp))

	tx := a.store.Begin()
	defer tx.Discard()

	g, err := tx.LoadGlobal()
	if err != nil {
		return out, err
	}
	put(g.OrderID)
	put(g.PairID)
	put(g.TradeID)
	put(g.QueueID)

	pairs, err := tx.ListPairs()
	if err != nil {
		return out, err
	}
	for _, p := range pairs {
		put(p.ID)
		put(uint64(p.LatestPrice))
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			levels, err := orderbook.Levels(tx, p.ID, side, 0)
			if err != nil {
				return out, err
			}
			for _, l := range levels {
				put(uint64(l.Price))
				put(uint64(l.Base))
			}
		}
	}

	copy(out[:], h.Sum(nil))
	return out, nil
}

// Status is a snapshot of block progress and scheduler state.
type Status struct {
	Height        int64    `json:"height"`
	AppHash       string   `json:"app_hash"`
	Enabled       bool     `json:"enabled"`
	Pending       int      `json:"pending"`
	PendingOrders int      `json:"pending_orders"`
	Deferred      int      `json:"deferred"`
	Armed         bool     `json:"armed"`
	Outstanding   []uint64 `json:"outstanding"`
}

func (a *App) Status() (Status, error) {
	a.stateMu.RLock()
	st := Status{
		Height:        a.height,
		AppHash:       fmt.Sprintf("0x%x", a.lastHash[:]),
		Enabled:       a.cfg.Enabled,
		Pending:       a.mempool.Len(),
		PendingOrders: a.mempool.Count(mempool.TxOrder),
	}
	a.stateMu.RUnlock()

	a.mu.Lock()
	st.Deferred = len(a.deferred)
	a.mu.Unlock()

	tx := a.store.Begin()
	defer tx.Discard()
	g, err := tx.LoadGlobal()
	if err != nil {
		return st, err
	}
	st.Armed = g.Armed
	st.Outstanding = g.OutstandingPairs()
	return st, nil
}
