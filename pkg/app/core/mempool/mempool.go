package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
)

// TxType classifies pending calls for reporting.
type TxType int

const (
	TxNonOrder TxType = iota
	TxCancel
	TxOrder
)

type Tx struct {
	Type  TxType
	Bytes []byte
}

// ClassifyRaw classifies a raw call by its JSON envelope type:
//
//	cancel_order, cancel_queued -> TxCancel
//	submit_order                -> TxOrder
//	everything else             -> TxNonOrder
//
// Malformed input is counted with orders; it is rejected when applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var envelope struct {
		Type transaction.CallType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}

	switch envelope.Type {
	case transaction.TypeCancelOrder, transaction.TypeCancelQueued:
		return TxCancel
	case transaction.TypeSubmitOrder:
		return TxOrder
	default:
		if envelope.Type.Known() {
			return TxNonOrder
		}
		return TxOrder
	}
}

// Mempool is a single FIFO in admission order; proposals never reorder
// calls. The classification only feeds the per-kind pending counts.
type Mempool struct {
	mu      sync.Mutex
	queue   []Tx
	pending [3]int
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a call.
func (m *Mempool) PushRaw(b []byte) {
	tx := Tx{Type: ClassifyRaw(b), Bytes: append([]byte(nil), b...)}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, tx)
	m.pending[tx.Type]++
}

// SelectForProposal returns the oldest calls that fit in maxBytes, removing
// them from the mempool. It stops at the first call that does not fit so a
// later call never overtakes an earlier one. A call larger than maxBytes is
// proposed alone rather than blocking the queue.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	n := 0
	for ; n < len(m.queue); n++ {
		tx := m.queue[n]
		size := int64(len(tx.Bytes))
		if maxBytes > 0 && used+size > maxBytes && n > 0 {
			break
		}
		out = append(out, tx.Bytes)
		used += size
		m.pending[tx.Type]--
	}
	m.queue = m.queue[n:]
	return out
}

// Len returns total pending calls.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Count returns the pending calls of one kind.
func (m *Mempool) Count(t TxType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[t]
}
