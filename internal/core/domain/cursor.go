package domain

import "time"

// SyncStatus is identified by (Network, ChainID, Prefix, Source). At most
// one row per identity exists; it is updated only by the transaction
// committing the work it describes (spec §3, §4.1).
//
// Archive cursors track Key (last object-store key processed);
// API/backfill/streaming cursors track a height range instead.
type SyncStatus struct {
	Network    Network
	ChainID    ChainID
	Prefix     string
	Source     Source
	Key        string // populated for Source == SourceArchive
	FromHeight uint64
	ToHeight   uint64
	UpdatedAt  time.Time
}

// HeightRange is a contiguous, inclusive range of block heights.
type HeightRange struct {
	FromHeight uint64
	ToHeight   uint64
}
