package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/watcher/internal/core/domain"
)

// StreamingErrorRepo backs the Tip Streamer's failure bookkeeping (spec
// §4.3): blocks that arrived over SSE but failed materialisation are
// recorded here. The Gap Filler repairs height ranges without reading
// these rows.
type StreamingErrorRepo struct {
	db *DB
}

// NewStreamingErrorRepo constructs a StreamingErrorRepo.
func NewStreamingErrorRepo(db *DB) *StreamingErrorRepo {
	return &StreamingErrorRepo{db: db}
}

// Create records a streamed block that failed persistence.
func (r *StreamingErrorRepo) Create(ctx context.Context, e *domain.StreamingError) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO streaming_errors (hash, chain_id) VALUES ($1,$2)
		ON CONFLICT (hash) DO NOTHING`, e.Hash, int(e.ChainID)); err != nil {
		return fmt.Errorf("create streaming error: %w", err)
	}
	return nil
}

// Delete removes the StreamingError for hash. No pipeline calls it.
func (r *StreamingErrorRepo) Delete(ctx context.Context, hash string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM streaming_errors WHERE hash = $1`, hash); err != nil {
		return fmt.Errorf("delete streaming error: %w", err)
	}
	return nil
}

// ListPending returns up to limit outstanding StreamingError rows.
func (r *StreamingErrorRepo) ListPending(ctx context.Context, limit int) ([]*domain.StreamingError, error) {
	var rows []struct {
		ID      int64  `db:"id"`
		Hash    string `db:"hash"`
		ChainID int    `db:"chain_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, hash, chain_id FROM streaming_errors ORDER BY id ASC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("list pending streaming errors: %w", err)
	}

	out := make([]*domain.StreamingError, len(rows))
	for i, row := range rows {
		out[i] = &domain.StreamingError{ID: row.ID, Hash: row.Hash, ChainID: domain.ChainID(row.ChainID)}
	}
	return out, nil
}
