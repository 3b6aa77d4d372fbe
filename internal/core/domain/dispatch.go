package domain

// DispatchInfo is the minimal in-memory record published to subscribers
// when a new block is materialised (spec §3, §4.7). It is never persisted.
type DispatchInfo struct {
	Hash                string
	ChainID             ChainID
	Height              uint64
	RequestKeys         []string
	QualifiedEventNames []string
}
