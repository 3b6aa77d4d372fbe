// Package node implements the Chainweb node HTTP/wire contract (spec §6):
// cut, branch header, payload outputs, pact local call, plus the
// base64/JSON envelope decoding shared by the Gap Filler, Archive
// Backfiller, and Tip Streamer. Grounded on the teacher's
// infra/chain/evm/adapter.go (hand-rolled net/http JSON client, no
// third-party HTTP client — the teacher's own choice for this concern).
package node

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Header is the wire shape of a block header (spec §3, §6).
type Header struct {
	Hash              string            `json:"hash"`
	ChainID           int               `json:"chainId"`
	Height            uint64            `json:"height"`
	ParentHash        string            `json:"parent"`
	CreationTime      string            `json:"creationTime"` // decimal-string seconds
	EpochStart        string            `json:"epochStart"`
	FeatureFlags      uint64            `json:"featureFlags"` // arrives unsigned
	Weight            string            `json:"weight"`
	Target            string            `json:"target"`
	Nonce             string            `json:"nonce"`
	PayloadHash       string            `json:"payloadHash"`
	Adjacents         map[string]string `json:"adjacents"`
	TransactionsCount int               `json:"-"` // not decoded or set; the materialiser counts the payload's transactions instead
}

// PayloadWithOutputs is the wire shape of a block's decoded transactions
// plus their execution results (spec §3, §6).
type PayloadWithOutputs struct {
	MinerData        string       `json:"minerData"` // base64 JSON
	Coinbase         string       `json:"coinbase"`  // base64 JSON
	Transactions     [][2]string  `json:"transactions"` // each [cmd, result], base64 JSON
	TransactionsHash string       `json:"transactionsHash"`
	OutputsHash      string       `json:"outputsHash"`
	PayloadHash      string       `json:"payloadHash"`
}

// Envelope is the unit both the object store and the SSE stream deliver
// (spec §4.2, §4.3, §6): a header paired with its payload+outputs.
type Envelope struct {
	Header             Header              `json:"header"`
	PayloadWithOutputs PayloadWithOutputs  `json:"payloadWithOutputs"`
}

// DecodeBase64JSON decodes a standard-padded base64 string into raw JSON
// bytes (spec §6: "Base64 fields are standard padded base64; decoded
// bytes are valid UTF-8 JSON").
func DecodeBase64JSON(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return json.RawMessage(data), nil
}

// DecodedTransaction is a payload transaction after both halves of its
// base64 pair are decoded.
type DecodedTransaction struct {
	Cmd    json.RawMessage
	Result json.RawMessage
}

// DecodeTransactions decodes every [cmd, result] pair in the payload.
func (p *PayloadWithOutputs) DecodeTransactions() ([]DecodedTransaction, error) {
	out := make([]DecodedTransaction, 0, len(p.Transactions))
	for i, pair := range p.Transactions {
		cmd, err := DecodeBase64JSON(pair[0])
		if err != nil {
			return nil, fmt.Errorf("transaction %d cmd: %w", i, err)
		}
		result, err := DecodeBase64JSON(pair[1])
		if err != nil {
			return nil, fmt.Errorf("transaction %d result: %w", i, err)
		}
		out = append(out, DecodedTransaction{Cmd: cmd, Result: result})
	}
	return out, nil
}
