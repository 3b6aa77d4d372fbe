package guards

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietddude/watcher/internal/core/domain"
)

type fakeBalanceRepo struct {
	balances []*domain.Balance
}

func (f *fakeBalanceRepo) PageByID(ctx context.Context, afterID int64, limit int) ([]*domain.Balance, error) {
	var page []*domain.Balance
	for _, b := range f.balances {
		if b.ID > afterID {
			page = append(page, b)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

type fakeGuardRepo struct {
	truncated bool
	inserted  []*domain.Guard
}

func (f *fakeGuardRepo) Truncate(ctx context.Context) error {
	f.truncated = true
	f.inserted = nil
	return nil
}

func (f *fakeGuardRepo) InsertBatch(ctx context.Context, guards []*domain.Guard) error {
	f.inserted = append(f.inserted, guards...)
	return nil
}

type fakePact struct {
	keys []string
	pred string
	err  error
}

func (f *fakePact) PactLocal(ctx context.Context, chainID domain.ChainID, cmd json.RawMessage) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := map[string]any{
		"result": map[string]any{
			"data": map[string]any{
				"guard": map[string]any{
					"keys": f.keys,
					"pred": f.pred,
				},
			},
		},
	}
	return json.Marshal(resp)
}

func TestReconciler_Run_RebuildsGuardsFromBalances(t *testing.T) {
	balances := &fakeBalanceRepo{balances: []*domain.Balance{
		{ID: 1, Account: "alice", ChainID: 0, Module: "coin", Balance: decimal.NewFromInt(10)},
		{ID: 2, Account: "bob", ChainID: 0, Module: "coin", Balance: decimal.NewFromInt(5)},
	}}
	guardsRepo := &fakeGuardRepo{}
	pact := &fakePact{keys: []string{"abc"}, pred: "keys-all"}

	r := New(Config{BatchSize: 10, Concurrency: 4}, balances, guardsRepo, pact, slog.Default())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !guardsRepo.truncated {
		t.Fatal("expected guards table to be truncated before rebuild")
	}
	if len(guardsRepo.inserted) != 2 {
		t.Fatalf("expected 2 guards inserted, got %d", len(guardsRepo.inserted))
	}
}

func TestReconciler_Run_FailsOnPactError(t *testing.T) {
	balances := &fakeBalanceRepo{balances: []*domain.Balance{
		{ID: 1, Account: "alice", ChainID: 0, Module: "coin"},
	}}
	guardsRepo := &fakeGuardRepo{}
	pact := &fakePact{err: fmt.Errorf("connection refused")}

	r := New(Config{}, balances, guardsRepo, pact, slog.Default())

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected an error when the pact call fails")
	}
}
