// Package node drives block production for a single sequencer: it asks
// the application for a proposal, checks it, and finalizes it on a fixed
// minimum cadence.
package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperdex/pkg/abci"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

// Block is the header of a finalized block.
type Block struct {
	Height  int64     `json:"height"`
	Time    int64     `json:"time"` // unix millis
	Parent  abci.Hash `json:"parent"`
	Hash    abci.Hash `json:"hash"`
	AppHash abci.Hash `json:"app_hash"`
	Txs     int       `json:"txs"`
	Failed  int       `json:"failed"`
}

type Node struct {
	App          abci.Application
	Clock        util.Clock
	Logger       *zap.SugaredLogger
	MinBlockTime time.Duration
	MaxTxBytes   int64

	// OnBlockCommit runs after every finalized block, including empty ones.
	OnBlockCommit func(b Block)

	mu   sync.RWMutex
	last Block
}

func New(app abci.Application, clock util.Clock, log *zap.SugaredLogger) *Node {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Node{App: app, Clock: clock, Logger: log, MaxTxBytes: 1 << 24}
}

// minInterval keeps a zero MinBlockTime from spinning the loop.
const minInterval = time.Millisecond

// Run produces blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	interval := n.MinBlockTime
	if interval < minInterval {
		interval = minInterval
	}
	n.Logger.Infow("node_starting", "min_block_time_ms", n.MinBlockTime.Milliseconds(), "max_tx_bytes", n.MaxTxBytes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.Clock.After(interval):
		}
		if _, err := n.ProduceBlock(); err != nil {
			return err
		}
	}
}

// ProduceBlock runs one propose/process/finalize cycle at the clock's
// current time.
func (n *Node) ProduceBlock() (Block, error) {
	n.mu.RLock()
	parent := n.last
	n.mu.RUnlock()

	height := parent.Height + 1
	ts := n.Clock.Now().UnixMilli()
	if ts <= parent.Time {
		// Block time never goes backwards.
		ts = parent.Time + 1
	}

	prep := n.App.PrepareProposal(abci.RequestPrepareProposal{Height: height, Timestamp: ts, MaxTxBytes: n.MaxTxBytes})
	payload := abci.EncodePayload(prep.Txs)
	txs := abci.SplitPayload(payload)

	if !n.App.ProcessProposal(abci.RequestProcessProposal{Height: height, Txs: txs}).Accept {
		return Block{}, fmt.Errorf("proposal at height %d rejected", height)
	}
	res := n.App.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: ts, Txs: txs})

	b := Block{
		Height:  height,
		Time:    ts,
		Parent:  parent.Hash,
		AppHash: res.AppHash,
		Txs:     len(txs),
	}
	for _, r := range res.TxResults {
		if r.Code != "ok" {
			b.Failed++
		}
	}
	b.Hash = hashBlock(b, payload)

	n.mu.Lock()
	n.last = b
	n.mu.Unlock()

	if b.Txs > 0 {
		n.Logger.Infow("commit",
			"height", b.Height,
			"txs", b.Txs,
			"failed", b.Failed,
			"apphash", fmt.Sprintf("0x%x", b.AppHash[:]))
	}
	if n.OnBlockCommit != nil {
		n.OnBlockCommit(b)
	}
	return b, nil
}

// Last returns the most recently finalized block.
func (n *Node) Last() Block {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.last
}

func hashBlock(b Block, payload []byte) abci.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	h.Write(b.AppHash[:])
	h.Write(payload)

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}
