package gapfiller

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"testing"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/storage"
)

type fakeHeaderFetcher struct {
	tip     uint64
	tipErr  error
	fetched []uint64
	fetchErr error
}

func (f *fakeHeaderFetcher) TipHeight(ctx context.Context, chainID domain.ChainID) (uint64, error) {
	return f.tip, f.tipErr
}

func (f *fakeHeaderFetcher) FetchHeaders(ctx context.Context, chainID domain.ChainID, fromHeight, toHeight uint64) ([]node.Envelope, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var envs []node.Envelope
	for h := fromHeight; h <= toHeight; h++ {
		f.fetched = append(f.fetched, h)
		envs = append(envs, node.Envelope{
			Header: node.Header{
				Hash:         fmt.Sprintf("hash-%d", h),
				Height:       h,
				CreationTime: "1700000000",
				EpochStart:   "1700000000",
				Weight:       "1",
				Adjacents:    map[string]string{},
			},
			PayloadWithOutputs: node.PayloadWithOutputs{
				MinerData: base64.StdEncoding.EncodeToString([]byte(`{}`)),
			},
		})
	}
	return envs, nil
}

type fakeUOWFactory struct{ blocks map[string]bool }

func (f *fakeUOWFactory) NewUnitOfWork(ctx context.Context) (storage.UnitOfWork, error) {
	if f.blocks == nil {
		f.blocks = make(map[string]bool)
	}
	return &fakeUOW{blocks: f.blocks}, nil
}

type fakeUOW struct{ blocks map[string]bool }

func (u *fakeUOW) Commit() error   { return nil }
func (u *fakeUOW) Rollback() error { return nil }
func (u *fakeUOW) InsertBlock(ctx context.Context, b *domain.Block) (bool, error) {
	if u.blocks[b.Hash] {
		return false, nil
	}
	u.blocks[b.Hash] = true
	return true, nil
}
func (u *fakeUOW) InsertTransaction(ctx context.Context, t *domain.Transaction) error { return nil }
func (u *fakeUOW) InsertSigner(ctx context.Context, s *domain.Signer) error           { return nil }
func (u *fakeUOW) InsertEvent(ctx context.Context, e *domain.Event) error             { return nil }
func (u *fakeUOW) InsertTransfer(ctx context.Context, tr *domain.Transfer) error      { return nil }
func (u *fakeUOW) UpsertBalanceDelta(ctx context.Context, account string, chainID domain.ChainID, module, tokenID, delta string) error {
	return nil
}
func (u *fakeUOW) SetCanonical(ctx context.Context, chainID domain.ChainID, height uint64, canonicalHash string) error {
	return nil
}
func (u *fakeUOW) BlockAtHeight(ctx context.Context, chainID domain.ChainID, height uint64) ([]*domain.Block, error) {
	return nil, nil
}
func (u *fakeUOW) SaveCursor(ctx context.Context, s *domain.SyncStatus) error      { return nil }
func (u *fakeUOW) DeleteSyncError(ctx context.Context, id int64) error            { return nil }
func (u *fakeUOW) DeleteStreamingError(ctx context.Context, hash string) error    { return nil }
func (u *fakeUOW) CreateStreamingError(ctx context.Context, e *domain.StreamingError) error {
	return nil
}

type fakeLedger struct {
	ranges []domain.HeightRange
}

func (l *fakeLedger) FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error) {
	return nil, storage.ErrCursorNotFound
}
func (l *fakeLedger) LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error) {
	return nil, nil
}
func (l *fakeLedger) NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight, tip uint64, limit int) ([]domain.HeightRange, error) {
	return l.ranges, nil
}

type fakeSyncErrRepo struct {
	created []*domain.SyncError
	pending []*domain.SyncError
}

func (r *fakeSyncErrRepo) Create(ctx context.Context, e *domain.SyncError) error {
	r.created = append(r.created, e)
	return nil
}
func (r *fakeSyncErrRepo) Delete(ctx context.Context, id int64) error { return nil }
func (r *fakeSyncErrRepo) ListPending(ctx context.Context, network domain.Network, limit int) ([]*domain.SyncError, error) {
	return r.pending, nil
}

func TestGapFiller_FillChain_FetchesEachMissingRange(t *testing.T) {
	fetcher := &fakeHeaderFetcher{tip: 100}
	uowFac := &fakeUOWFactory{}
	ledger := &fakeLedger{ranges: []domain.HeightRange{{FromHeight: 10, ToHeight: 12}}}
	errs := &fakeSyncErrRepo{}

	g := New(Config{ChainCount: 1, FetchIntervalBlocks: 50}, fetcher, uowFac, ledger, errs, bus.New(0), nil, slog.Default())

	if err := g.fillChain(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fetcher.fetched) != 3 {
		t.Fatalf("expected heights 10,11,12 fetched, got %v", fetcher.fetched)
	}
}

func TestGapFiller_FillRange_RecordsSyncErrorOnExhaustion(t *testing.T) {
	fetcher := &fakeHeaderFetcher{fetchErr: fmt.Errorf("node unreachable")}
	uowFac := &fakeUOWFactory{}
	ledger := &fakeLedger{}
	errs := &fakeSyncErrRepo{}

	cfg := Config{ChainCount: 1, FetchIntervalBlocks: 5}
	cfg.RetryConfig.MaxAttempts = 1
	g := New(cfg, fetcher, uowFac, ledger, errs, bus.New(0), nil, slog.Default())

	g.fillRange(context.Background(), 0, domain.HeightRange{FromHeight: 1, ToHeight: 5})

	if len(errs.created) != 1 {
		t.Fatalf("expected one sync error recorded, got %d", len(errs.created))
	}
}

func TestGapFiller_ClaimChunk_AllowsWhenNoClaimsClient(t *testing.T) {
	g := New(Config{ChainCount: 1}, &fakeHeaderFetcher{}, &fakeUOWFactory{}, &fakeLedger{}, &fakeSyncErrRepo{}, bus.New(0), nil, slog.Default())

	if !g.claimChunk(context.Background(), 0, 1, 10) {
		t.Fatal("expected claim to succeed when no claims client is configured")
	}
}
