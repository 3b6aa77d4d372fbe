// Package storage defines the repository interfaces the indexing pipelines
// depend on. Concrete implementations live in the postgres subpackage;
// pipelines and the materialiser depend only on these interfaces so tests
// can supply hand-rolled fakes (teacher convention, see
// internal/infra/storage/repository.go in the teacher tree).
package storage

import (
	"context"
	"errors"

	"github.com/vietddude/watcher/internal/core/domain"
)

// ErrCursorNotFound is returned when no SyncStatus row exists for an
// identity yet.
var ErrCursorNotFound = errors.New("sync status not found")

// SyncStatusRepository backs the Sync-Status Ledger (spec §4.1).
type SyncStatusRepository interface {
	// FindLastCursor returns the current cursor for (network, chainId,
	// prefix, source), or ErrCursorNotFound.
	FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error)

	// LastSyncForAllChains returns, for each (chain, source) pair among the
	// given sources, the highest ToHeight; rows of different sources on the
	// same chain are not merged into one per-chain value.
	LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error)

	// NextMissingRange detects up to limit contiguous height gaps for a
	// chain, bounded below by floorHeight and above by tip-1 (spec §4.4).
	NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight uint64, tip uint64, limit int) ([]domain.HeightRange, error)
}

// SyncErrorRepository backs retry-exhaustion bookkeeping (spec §4.4).
type SyncErrorRepository interface {
	Create(ctx context.Context, e *domain.SyncError) error
	Delete(ctx context.Context, id int64) error
	ListPending(ctx context.Context, network domain.Network, limit int) ([]*domain.SyncError, error)
}

// StreamingErrorRepository backs the Tip Streamer's failure bookkeeping
// (spec §4.3).
type StreamingErrorRepository interface {
	Create(ctx context.Context, e *domain.StreamingError) error
	Delete(ctx context.Context, hash string) error
	ListPending(ctx context.Context, limit int) ([]*domain.StreamingError, error)
}

// BlockRepository is read-only outside the materialiser, which writes via
// UnitOfWork instead (spec §3 ownership rule).
type BlockRepository interface {
	GetByHash(ctx context.Context, hash string) (*domain.Block, error)
	GetTipHeight(ctx context.Context, chainID domain.ChainID) (uint64, error)
	ExistsAtHeight(ctx context.Context, chainID domain.ChainID, height uint64) (bool, error)
}

// BalanceRepository is read by the Guards Reconciler, written by the
// materialiser via UnitOfWork.
type BalanceRepository interface {
	PageByID(ctx context.Context, afterID int64, limit int) ([]*domain.Balance, error)
}

// GuardRepository is owned exclusively by the Guards Reconciler (spec
// §3, §4.6).
type GuardRepository interface {
	Truncate(ctx context.Context) error
	InsertBatch(ctx context.Context, guards []*domain.Guard) error
}

// UnitOfWorkFactory begins a new transactional UnitOfWork. Pipelines
// depend on this interface rather than *postgres.DB directly so tests can
// supply an in-memory fake (teacher convention).
type UnitOfWorkFactory interface {
	NewUnitOfWork(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is the materialiser's single write path: every durable
// mutation happens inside one (spec §4.5 atomicity requirement).
type UnitOfWork interface {
	Commit() error
	Rollback() error

	InsertBlock(ctx context.Context, b *domain.Block) (inserted bool, err error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	InsertSigner(ctx context.Context, s *domain.Signer) error
	InsertEvent(ctx context.Context, e *domain.Event) error
	InsertTransfer(ctx context.Context, tr *domain.Transfer) error
	UpsertBalanceDelta(ctx context.Context, account string, chainID domain.ChainID, module string, tokenID string, delta string) error

	// SetCanonical marks the transactions and transfers at (chainId, height)
	// that belong to canonicalHash as canonical and those of every other
	// block at that height as non-canonical, for reorg canonicalisation
	// (spec §4.5).
	SetCanonical(ctx context.Context, chainID domain.ChainID, height uint64, canonicalHash string) error
	BlockAtHeight(ctx context.Context, chainID domain.ChainID, height uint64) ([]*domain.Block, error)

	SaveCursor(ctx context.Context, status *domain.SyncStatus) error
	DeleteSyncError(ctx context.Context, id int64) error
	DeleteStreamingError(ctx context.Context, hash string) error
	CreateStreamingError(ctx context.Context, e *domain.StreamingError) error
}
