// Package abci is the boundary between the block producer and the
// application: the producer asks for a proposal, then finalizes it.
package abci

type Hash [32]byte

type RequestPrepareProposal struct {
	Height     int64
	Timestamp  int64 // Unix millis
	MaxTxBytes int64
}
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix millis
	Txs       [][]byte
}

// TxResult is the receipt of one call in a block.
type TxResult struct {
	CallID string `json:"call_id"`
	Code   string `json:"code"` // "ok" or an error code
	Log    string `json:"log,omitempty"`
	Trades int    `json:"trades,omitempty"`
}

type ResponseFinalizeBlock struct {
	Events    []string
	TxResults []TxResult
	AppHash   Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// EncodePayload joins txs into one block payload with 0x00 delimiters.
// Calls are JSON, so they never contain a zero byte.
func EncodePayload(txs [][]byte) []byte {
	var payload []byte
	for _, tx := range txs {
		payload = append(payload, tx...)
		payload = append(payload, 0x00)
	}
	return payload
}

// SplitPayload is the inverse of EncodePayload.
func SplitPayload(p []byte) [][]byte {
	var out [][]byte
	cur := make([]byte, 0, len(p))
	for _, b := range p {
		if b == 0x00 {
			if len(cur) > 0 {
				out = append(out, append([]byte(nil), cur...))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, b)
	}
	if len(cur) > 0 {
		out = append(out, append([]byte(nil), cur...))
	}
	return out
}
