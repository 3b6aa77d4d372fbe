package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vietddude/watcher/internal/core/domain"
)

// GuardRepo is owned exclusively by the Guards Reconciler (spec §3,
// §4.6): it truncates and rebuilds the table wholesale rather than
// diffing, since guards are derived state with no independent history.
type GuardRepo struct {
	db *DB
}

// NewGuardRepo constructs a GuardRepo.
func NewGuardRepo(db *DB) *GuardRepo {
	return &GuardRepo{db: db}
}

// Truncate empties the guards table before a rebuild pass.
func (r *GuardRepo) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE TABLE guards`); err != nil {
		return fmt.Errorf("truncate guards: %w", err)
	}
	return nil
}

// InsertBatch bulk-inserts guards in a single multi-row statement (spec
// §4.6: 1000-row batches at 50-in-flight concurrency).
func (r *GuardRepo) InsertBatch(ctx context.Context, guards []*domain.Guard) error {
	if len(guards) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO guards (account, chain_id, module, keys, predicate) VALUES `)
	args := make([]interface{}, 0, len(guards)*5)
	for i, g := range guards {
		keys, err := json.Marshal(g.Keys)
		if err != nil {
			return fmt.Errorf("marshal guard keys: %w", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, g.Account, int(g.ChainID), g.Module, keys, g.Predicate)
	}
	sb.WriteString(` ON CONFLICT (account, chain_id, module) DO UPDATE SET
		keys = EXCLUDED.keys, predicate = EXCLUDED.predicate`)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert guards batch: %w", err)
	}
	return nil
}
