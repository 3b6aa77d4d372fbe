package domain

import "encoding/json"

// Block is a single header+payload on one chain. Hash is globally unique;
// (ChainID, Height) is not, since forks are possible until reconciled by
// the materialiser's canonicalisation pass. A block is never mutated after
// insert other than the derived Canonical flag on its owned rows.
type Block struct {
	Hash              string
	ChainID           ChainID
	Height            uint64
	ParentHash        string
	CreationTime      int64 // seconds, decoded from the on-wire decimal string
	EpochStart        int64
	FeatureFlags      int64 // two's-complement reinterpretation of an unsigned 64-bit value, see ReinterpretFeatureFlags
	Weight            string
	Target            string
	Nonce             string
	PayloadHash       string
	Adjacents         map[ChainID]string
	MinerData         json.RawMessage
	TransactionsHash  string
	OutputsHash       string
	Coinbase          json.RawMessage
	TransactionsCount int
}

// ReinterpretFeatureFlags maps the wire's unsigned 64-bit featureFlags onto
// a signed 64-bit column via two's-complement wraparound (spec §6/§9): bit
// patterns are preserved, only the interpretation changes.
func ReinterpretFeatureFlags(u uint64) int64 {
	return int64(u)
}

// FeatureFlagsUnsigned is the inverse of ReinterpretFeatureFlags, for any
// downstream reader that needs the original unsigned value back.
func FeatureFlagsUnsigned(i int64) uint64 {
	return uint64(i)
}
