package archive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/storage"
)

type fakeStore struct {
	pages   [][]string
	objects map[string][]byte
	calls   int
}

// List ignores startAfter and instead returns its pages in call order,
// so the test can assert runPage advances past an exhausted listing
// without reimplementing the real store's lexicographic pagination.
func (s *fakeStore) List(ctx context.Context, prefix string, maxKeys int, startAfter string) ([]string, error) {
	defer func() { s.calls++ }()
	if s.calls >= len(s.pages) {
		return nil, nil
	}
	return s.pages[s.calls], nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found", key)
	}
	return data, nil
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
func (u *fakeUOW) SaveCursor(ctx context.Context, s *domain.SyncStatus) error   { return nil }
func (u *fakeUOW) DeleteSyncError(ctx context.Context, id int64) error         { return nil }
func (u *fakeUOW) DeleteStreamingError(ctx context.Context, hash string) error { return nil }
func (u *fakeUOW) CreateStreamingError(ctx context.Context, e *domain.StreamingError) error {
	return nil
}

type fakeLedger struct{}

func (l *fakeLedger) FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error) {
	return nil, storage.ErrCursorNotFound
}
func (l *fakeLedger) LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error) {
	return nil, nil
}
func (l *fakeLedger) NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight, tip uint64, limit int) ([]domain.HeightRange, error) {
	return nil, nil
}

func encodeEnvelope(t *testing.T, hash string, height uint64) []byte {
	t.Helper()
	env := node.Envelope{
		Header: node.Header{
			Hash:         hash,
			Height:       height,
			CreationTime: "1700000000",
			EpochStart:   "1700000000",
			Weight:       "1",
			Adjacents:    map[string]string{},
		},
		PayloadWithOutputs: node.PayloadWithOutputs{
			MinerData: base64.StdEncoding.EncodeToString([]byte(`{}`)),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestBackfiller_RunPage_AdvancesCursorAndStops(t *testing.T) {
	objects := map[string][]byte{
		"headers/0001": encodeEnvelope(t, "h1", 1),
		"headers/0002": encodeEnvelope(t, "h2", 2),
	}
	store := &fakeStore{
		pages:   [][]string{{"headers/0001", "headers/0002"}},
		objects: objects,
	}

	bf := New(Config{Prefix: "headers/", MaxKeys: 20}, store, &fakeUOWFactory{}, &fakeLedger{}, bus.New(0), slog.Default())

	done, err := bf.runPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("expected runPage to report work done, not an empty listing")
	}

	done, err = bf.runPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error on second page: %v", err)
	}
	if !done {
		t.Fatal("expected the second page to be empty (listing exhausted)")
	}
}
