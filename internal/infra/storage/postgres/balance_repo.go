package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vietddude/watcher/internal/core/domain"
)

// BalanceRepo is written by the materialiser via UnitOfWork and read by
// the Guards Reconciler for its paginated rebuild sweep (spec §4.6).
type BalanceRepo struct {
	db *DB
}

// NewBalanceRepo constructs a BalanceRepo.
func NewBalanceRepo(db *DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

// PageByID returns up to limit balances with id > afterID, ordered by id
// (spec §4.6: keyset pagination drives the 1000-row batch walk).
func (r *BalanceRepo) PageByID(ctx context.Context, afterID int64, limit int) ([]*domain.Balance, error) {
	var rows []struct {
		ID      int64           `db:"id"`
		Account string          `db:"account"`
		ChainID int             `db:"chain_id"`
		Module  string          `db:"module"`
		TokenID string          `db:"token_id"`
		Balance decimal.Decimal `db:"balance"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, account, chain_id, module, token_id, balance
		FROM balances WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("page balances: %w", err)
	}

	out := make([]*domain.Balance, len(rows))
	for i, row := range rows {
		out[i] = &domain.Balance{
			ID:      row.ID,
			Account: row.Account,
			ChainID: domain.ChainID(row.ChainID),
			Module:  row.Module,
			TokenID: row.TokenID,
			Balance: row.Balance,
		}
	}
	return out, nil
}
