package domain

import "encoding/json"

// Transaction belongs to one Block. (BlockHash, RequestKey) is unique
// within a block. Canonical mirrors its containing block: true while the
// block lies on the heaviest chain for its height, flipped by the
// materialiser's reorg pass otherwise.
type Transaction struct {
	ID           int64
	BlockHash    string
	RequestKey   string
	Hash         string
	Sender       string
	ChainID      ChainID
	CreationTime int64
	Result       json.RawMessage
	Logs         string
	NumEvents    int
	TxID         int64
	Canonical    bool
	GasUsed      int64
	GasPrice     string
	Payload      Payload
}

// IsCoinbase reports whether this row is the synthetic per-block coinbase
// transaction the materialiser synthesises rather than one decoded from
// the payload's transaction list.
func (t *Transaction) IsCoinbase() bool {
	return t.Sender == "coinbase"
}
