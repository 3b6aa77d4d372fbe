package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/watcher/internal/core/domain"
)

// UnitOfWork bundles every persistence operation the Block Materialiser,
// Archive Backfiller, and Gap Filler need into a single transaction
// (spec §4.5 atomicity requirement). Grounded on the teacher's
// infra/storage/postgres/unit_of_work.go: same Commit/Rollback shape,
// generalised from batch block/transaction inserts to the full domain
// graph the spec names.
type UnitOfWork struct {
	tx *sqlx.Tx
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InsertBlock inserts b. A unique-violation on hash is treated as
// idempotent success per spec §4.5 step 2 and §7; inserted is false in
// that case.
func (u *UnitOfWork) InsertBlock(ctx context.Context, b *domain.Block) (bool, error) {
	adjacents, err := json.Marshal(b.Adjacents)
	if err != nil {
		return false, fmt.Errorf("marshal adjacents: %w", err)
	}

	res, err := u.tx.ExecContext(ctx, `
		INSERT INTO blocks (hash, chain_id, height, parent_hash, creation_time, epoch_start,
			feature_flags, weight, target, nonce, payload_hash, adjacents, miner_data,
			transactions_hash, outputs_hash, coinbase, transactions_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (hash) DO NOTHING`,
		b.Hash, int(b.ChainID), int64(b.Height), b.ParentHash, b.CreationTime, b.EpochStart,
		b.FeatureFlags, b.Weight, b.Target, b.Nonce, b.PayloadHash, adjacents, []byte(b.MinerData),
		b.TransactionsHash, b.OutputsHash, []byte(b.Coinbase), b.TransactionsCount)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert block: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("verify block insert: %w", err)
	}
	return n == 1, nil
}

// InsertTransaction inserts t, populating t.ID.
func (u *UnitOfWork) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	row := u.tx.QueryRowxContext(ctx, `
		INSERT INTO transactions (block_hash, request_key, hash, sender, chain_id, creation_time,
			result, logs, num_events, txid, canonical, gas_used, gas_price, payload_kind, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (block_hash, request_key) DO UPDATE SET sender = EXCLUDED.sender
		RETURNING id`,
		t.BlockHash, t.RequestKey, t.Hash, t.Sender, int(t.ChainID), t.CreationTime,
		[]byte(t.Result), t.Logs, t.NumEvents, t.TxID, t.Canonical, t.GasUsed, t.GasPrice,
		string(t.Payload.Kind), payload)
	if err := row.Scan(&t.ID); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func marshalPayload(p domain.Payload) ([]byte, error) {
	switch p.Kind {
	case domain.PayloadExecution:
		return json.Marshal(p.Execution)
	case domain.PayloadContinuation:
		return json.Marshal(p.Continuation)
	default:
		return []byte("null"), nil
	}
}

// InsertSigner inserts s, ordered by s.OrderIndex (spec §4.5 step 3).
func (u *UnitOfWork) InsertSigner(ctx context.Context, s *domain.Signer) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO signers (transaction_id, pubkey, address, order_index, clist)
		VALUES ($1,$2,$3,$4,$5)`,
		s.TransactionID, s.Pubkey, s.Address, s.OrderIndex, []byte(s.CList))
	if err != nil {
		return fmt.Errorf("insert signer: %w", err)
	}
	return nil
}

// InsertEvent inserts e, preserving e.OrderIndex (spec §4.5 step 3).
func (u *UnitOfWork) InsertEvent(ctx context.Context, e *domain.Event) error {
	row := u.tx.QueryRowxContext(ctx, `
		INSERT INTO events (transaction_id, request_key, chain_id, order_index, module, name,
			params, block_hash, height)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		e.TransactionID, e.RequestKey, int(e.ChainID), e.OrderIndex, e.Module, e.Name,
		[]byte(e.Params), e.BlockHash, int64(e.Height))
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertTransfer inserts tr, derived from an M.TRANSFER event (spec §4.5
// step 3).
func (u *UnitOfWork) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO transfers (request_key, chain_id, network, payload_hash, module_hash,
			module_name, from_acct, to_acct, amount, type, has_token_id, token_id, canonical)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tr.RequestKey, int(tr.ChainID), string(tr.Network), tr.PayloadHash, tr.ModuleHash,
		tr.ModuleName, tr.From, tr.To, tr.Amount, string(tr.Type), tr.HasTokenID, tr.TokenID, tr.Canonical)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// UpsertBalanceDelta applies delta to the balance of (account, chainId,
// module, tokenId), creating the row on first observation (spec §4.5
// step 3).
func (u *UnitOfWork) UpsertBalanceDelta(ctx context.Context, account string, chainID domain.ChainID, module string, tokenID string, delta string) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO balances (account, chain_id, module, token_id, balance)
		VALUES ($1,$2,$3,$4,$5::numeric)
		ON CONFLICT (account, chain_id, module, token_id)
		DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		account, int(chainID), module, tokenID, delta)
	if err != nil {
		return fmt.Errorf("upsert balance delta: %w", err)
	}
	return nil
}

// BlockAtHeight returns every block currently stored at (chainId, height),
// used by the reorg pass to find competing forks (spec §4.5).
func (u *UnitOfWork) BlockAtHeight(ctx context.Context, chainID domain.ChainID, height uint64) ([]*domain.Block, error) {
	rows, err := u.tx.QueryxContext(ctx, `
		SELECT hash, chain_id, height, parent_hash, weight
		FROM blocks WHERE chain_id = $1 AND height = $2`, int(chainID), int64(height))
	if err != nil {
		return nil, fmt.Errorf("query blocks at height: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []*domain.Block
	for rows.Next() {
		var b domain.Block
		var chainIDInt int
		var heightInt int64
		if err := rows.Scan(&b.Hash, &chainIDInt, &heightInt, &b.ParentHash, &b.Weight); err != nil {
			return nil, fmt.Errorf("scan block at height: %w", err)
		}
		b.ChainID = domain.ChainID(chainIDInt)
		b.Height = uint64(heightInt)
		blocks = append(blocks, &b)
	}
	return blocks, nil
}

// SetCanonical flips the canonical flag on every transaction/transfer at
// (chainId, height) belonging to canonicalHash to true and every other
// block's rows at that height to false (spec §4.5 canonicalisation).
func (u *UnitOfWork) SetCanonical(ctx context.Context, chainID domain.ChainID, height uint64, canonicalHash string) error {
	if _, err := u.tx.ExecContext(ctx, `
		UPDATE transactions SET canonical = (block_hash = $1)
		WHERE chain_id = $2 AND block_hash IN (SELECT hash FROM blocks WHERE chain_id = $2 AND height = $3)`,
		canonicalHash, int(chainID), int64(height)); err != nil {
		return fmt.Errorf("set canonical transactions: %w", err)
	}

	if _, err := u.tx.ExecContext(ctx, `
		UPDATE transfers SET canonical = (payload_hash IN (
			SELECT b.payload_hash FROM blocks b WHERE b.hash = $1
		)) WHERE chain_id = $2 AND request_key IN (
			SELECT request_key FROM transactions WHERE chain_id = $2 AND block_hash IN (
				SELECT hash FROM blocks WHERE chain_id = $2 AND height = $3
			)
		)`, canonicalHash, int(chainID), int64(height)); err != nil {
		return fmt.Errorf("set canonical transfers: %w", err)
	}
	return nil
}

// SaveCursor upserts a SyncStatus within this transaction (spec §4.1
// invariant: the cursor advance commits with the work it describes).
func (u *UnitOfWork) SaveCursor(ctx context.Context, s *domain.SyncStatus) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO sync_status (network, chain_id, prefix, source, key, from_height, to_height, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		ON CONFLICT (network, chain_id, prefix, source)
		DO UPDATE SET key = EXCLUDED.key, from_height = EXCLUDED.from_height,
			to_height = EXCLUDED.to_height, updated_at = now()`,
		string(s.Network), int(s.ChainID), s.Prefix, string(s.Source), s.Key, int64(s.FromHeight), int64(s.ToHeight))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// DeleteSyncError deletes a SyncError row (spec §3: "deleted on a
// successful retry").
func (u *UnitOfWork) DeleteSyncError(ctx context.Context, id int64) error {
	_, err := u.tx.ExecContext(ctx, `DELETE FROM sync_errors WHERE id = $1`, id)
	return err
}

// DeleteStreamingError deletes a StreamingError row by hash (spec §3:
// "cleared when resolved by Gap Filler").
func (u *UnitOfWork) DeleteStreamingError(ctx context.Context, hash string) error {
	_, err := u.tx.ExecContext(ctx, `DELETE FROM streaming_errors WHERE hash = $1`, hash)
	return err
}

// CreateStreamingError records a streamed block that failed persistence
// (spec §4.3).
func (u *UnitOfWork) CreateStreamingError(ctx context.Context, e *domain.StreamingError) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO streaming_errors (hash, chain_id) VALUES ($1,$2)
		ON CONFLICT (hash) DO NOTHING`, e.Hash, int(e.ChainID))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
