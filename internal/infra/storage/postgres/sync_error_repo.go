package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/watcher/internal/core/domain"
)

// SyncErrorRepo backs retry-exhaustion bookkeeping for the Gap Filler
// (spec §4.4). Grounded on the teacher's infra/storage/postgres layer,
// generalised from failed_blocks to the spec's SyncError shape.
type SyncErrorRepo struct {
	db *DB
}

// NewSyncErrorRepo constructs a SyncErrorRepo.
func NewSyncErrorRepo(db *DB) *SyncErrorRepo {
	return &SyncErrorRepo{db: db}
}

// Create records a range that exhausted its retry budget (spec §4.4).
func (r *SyncErrorRepo) Create(ctx context.Context, e *domain.SyncError) error {
	row := r.db.QueryRowxContext(ctx, `
		INSERT INTO sync_errors (network, chain_id, from_height, to_height, source)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		string(e.Network), int(e.ChainID), int64(e.FromHeight), int64(e.ToHeight), string(e.Source))
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("create sync error: %w", err)
	}
	return nil
}

// Delete removes a SyncError row after a successful retry (spec §3).
func (r *SyncErrorRepo) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_errors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete sync error: %w", err)
	}
	return nil
}

// ListPending returns up to limit outstanding SyncError rows for the
// startRetryErrors sweep (spec §4.4).
func (r *SyncErrorRepo) ListPending(ctx context.Context, network domain.Network, limit int) ([]*domain.SyncError, error) {
	var rows []struct {
		ID         int64  `db:"id"`
		Network    string `db:"network"`
		ChainID    int    `db:"chain_id"`
		FromHeight int64  `db:"from_height"`
		ToHeight   int64  `db:"to_height"`
		Source     string `db:"source"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, network, chain_id, from_height, to_height, source
		FROM sync_errors WHERE network = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(network), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending sync errors: %w", err)
	}

	out := make([]*domain.SyncError, len(rows))
	for i, row := range rows {
		out[i] = &domain.SyncError{
			ID:         row.ID,
			Network:    domain.Network(row.Network),
			ChainID:    domain.ChainID(row.ChainID),
			FromHeight: uint64(row.FromHeight),
			ToHeight:   uint64(row.ToHeight),
			Source:     domain.Source(row.Source),
		}
	}
	return out, nil
}
