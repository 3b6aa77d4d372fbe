// Package guards implements the Guards Reconciler (spec §4.6): rebuilds
// the Guard table wholesale from current Balance rows. Grounded on the
// teacher's indexing/backfill/processor.go rate-limited bounded-batch
// loop and core/worker/pruner.go's periodic full-table sweep, fan-out
// bounded via internal/core/concurrent.Each (teacher's
// infra/chain/evm/adapter.go EnrichTransactions pattern).
package guards

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vietddude/watcher/internal/core/concurrent"
	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/metrics"
	"github.com/vietddude/watcher/internal/infra/storage"
)

// PactCaller is the subset of node.Client the reconciler needs to query
// an account's current guard.
type PactCaller interface {
	PactLocal(ctx context.Context, chainID domain.ChainID, cmd json.RawMessage) (json.RawMessage, error)
}

// Config configures a Reconciler instance (spec §4.6).
type Config struct {
	BatchSize   int // default 1000
	Concurrency int // default 50
}

// Reconciler rebuilds Guards from Balances on a schedule driven by the
// Tip Streamer (spec §4.3 lifecycle).
type Reconciler struct {
	cfg      Config
	balances storage.BalanceRepository
	guardsDB storage.GuardRepository
	pact     PactCaller
	log      *slog.Logger
}

// New constructs a Reconciler.
func New(cfg Config, balances storage.BalanceRepository, guardsDB storage.GuardRepository, pact PactCaller, log *slog.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 50
	}
	return &Reconciler{cfg: cfg, balances: balances, guardsDB: guardsDB, pact: pact, log: log}
}

// Run truncates Guards and repopulates it in id-ascending batches,
// aborting the cycle (leaving Guards partially populated) on the first
// batch failure (spec §4.6).
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.guardsDB.Truncate(ctx); err != nil {
		return fmt.Errorf("truncate guards: %w", err)
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		balances, err := r.balances.PageByID(ctx, afterID, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("page balances: %w", err)
		}
		if len(balances) == 0 {
			return nil
		}

		if err := r.reconcileBatch(ctx, balances); err != nil {
			return fmt.Errorf("reconcile batch after id %d: %w", afterID, err)
		}
		afterID = balances[len(balances)-1].ID
	}
}

func (r *Reconciler) reconcileBatch(ctx context.Context, balances []*domain.Balance) error {
	guardsList := make([]*domain.Guard, len(balances))
	err := concurrent.Each(ctx, r.cfg.Concurrency, balances, func(ctx context.Context, bal *domain.Balance) error {
		guard, err := r.fetchGuard(ctx, bal)
		if err != nil {
			return fmt.Errorf("fetch guard for %s: %w", bal.Account, err)
		}
		guardsList[indexOfBalance(balances, bal)] = guard
		return nil
	})
	if err != nil {
		return err
	}

	filtered := make([]*domain.Guard, 0, len(guardsList))
	for _, g := range guardsList {
		if g != nil {
			filtered = append(filtered, g)
		}
	}
	if err := r.guardsDB.InsertBatch(ctx, filtered); err != nil {
		return fmt.Errorf("insert guards batch: %w", err)
	}
	metrics.GuardsRebuilt.Add(float64(len(filtered)))
	return nil
}

func indexOfBalance(balances []*domain.Balance, target *domain.Balance) int {
	for i, b := range balances {
		if b == target {
			return i
		}
	}
	return -1
}

// pactDetailsCmd is the minimal Pact local-call envelope for
// `(module.details account)`, used to read an account's current guard.
type pactDetailsCmd struct {
	Payload struct {
		Exec struct {
			Code string `json:"code"`
		} `json:"exec"`
	} `json:"payload"`
	Meta struct {
		ChainID string `json:"chainId"`
	} `json:"meta"`
}

type pactDetailsResult struct {
	Result struct {
		Data struct {
			Guard struct {
				Keys []string `json:"keys"`
				Pred string   `json:"pred"`
			} `json:"guard"`
		} `json:"data"`
	} `json:"result"`
}

func (r *Reconciler) fetchGuard(ctx context.Context, bal *domain.Balance) (*domain.Guard, error) {
	cmd := pactDetailsCmd{}
	cmd.Payload.Exec.Code = fmt.Sprintf("(%s.details %q)", bal.Module, bal.Account)
	cmd.Meta.ChainID = fmt.Sprint(int(bal.ChainID))

	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal pact cmd: %w", err)
	}

	resp, err := r.pact.PactLocal(ctx, bal.ChainID, raw)
	if err != nil {
		return nil, fmt.Errorf("pact local call: %w", err)
	}

	var result pactDetailsResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode pact result: %w", err)
	}

	return &domain.Guard{
		Account:   bal.Account,
		ChainID:   bal.ChainID,
		Module:    bal.Module,
		Keys:      result.Result.Data.Guard.Keys,
		Predicate: result.Result.Data.Guard.Pred,
	}, nil
}
