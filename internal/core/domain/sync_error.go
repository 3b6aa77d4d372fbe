package domain

import "time"

// SyncError records an unrecoverable retry exhaustion on the Gap Filler's
// API path (spec §3, §4.4). Deleted on a successful retry.
type SyncError struct {
	ID         int64
	Network    Network
	ChainID    ChainID
	FromHeight uint64
	ToHeight   uint64
	Source     Source
	CreatedAt  time.Time
}

// StreamingError records a streamed block that failed persistence (spec
// §3, §4.3). The Gap Filler repairs height ranges without reading these
// rows, and no pipeline deletes them.
type StreamingError struct {
	ID      int64
	Hash    string
	ChainID ChainID
}
