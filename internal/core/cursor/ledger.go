// Package cursor implements the Sync-Status Ledger (spec §3, §4.1): the
// durable record of per-(network, chain, prefix, source) progress used by
// every pipeline to decide what still needs fetching.
package cursor

import (
	"context"
	"fmt"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/infra/storage"
)

// ErrNotFound re-exports storage.ErrCursorNotFound for callers that only
// import this package.
var ErrNotFound = storage.ErrCursorNotFound

// Ledger is the read-side API pipelines use to decide what to fetch.
// Writes happen through a storage.UnitOfWork (spec §4.1 invariant: a
// cursor advance is persisted in the same transaction as the blocks it
// describes), not through this interface.
type Ledger interface {
	FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error)
	LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error)
	NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight, tip uint64, limit int) ([]domain.HeightRange, error)
}

// DefaultLedger is a thin wrapper over storage.SyncStatusRepository,
// grounded on the teacher's core/cursor/manager.go constructor pattern
// (a Manager interface backed by a single repository field) — generalised
// here from a single mutable Cursor to the read-only ledger view, since
// every write path in this spec goes through a UnitOfWork instead.
type DefaultLedger struct {
	repo storage.SyncStatusRepository
}

// NewLedger constructs a Ledger backed by repo.
func NewLedger(repo storage.SyncStatusRepository) *DefaultLedger {
	return &DefaultLedger{repo: repo}
}

func (l *DefaultLedger) FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error) {
	status, err := l.repo.FindLastCursor(ctx, network, chainID, prefix, source)
	if err != nil {
		return nil, fmt.Errorf("find last cursor: %w", err)
	}
	return status, nil
}

func (l *DefaultLedger) LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error) {
	statuses, err := l.repo.LastSyncForAllChains(ctx, network, sources)
	if err != nil {
		return nil, fmt.Errorf("last sync for all chains: %w", err)
	}
	return statuses, nil
}

func (l *DefaultLedger) NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight, tip uint64, limit int) ([]domain.HeightRange, error) {
	if floorHeight >= tip {
		return nil, nil
	}
	ranges, err := l.repo.NextMissingRange(ctx, network, chainID, floorHeight, tip, limit)
	if err != nil {
		return nil, fmt.Errorf("next missing range: %w", err)
	}
	return ranges, nil
}
