package tipstreamer

import (
	"context"
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/bus"
	"github.com/vietddude/watcher/internal/infra/node"
	"github.com/vietddude/watcher/internal/infra/sse"
	"github.com/vietddude/watcher/internal/infra/storage"
)

type fakeDeduper struct{ seen map[string]bool }

func (d *fakeDeduper) MarkSeen(ctx context.Context, network string, hash string, ttl time.Duration) (bool, error) {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := network + ":" + hash
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
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

type fakeStreamErrRepo struct{ created []*domain.StreamingError }

func (r *fakeStreamErrRepo) Create(ctx context.Context, e *domain.StreamingError) error {
	r.created = append(r.created, e)
	return nil
}
func (r *fakeStreamErrRepo) Delete(ctx context.Context, hash string) error { return nil }
func (r *fakeStreamErrRepo) ListPending(ctx context.Context, limit int) ([]*domain.StreamingError, error) {
	return nil, nil
}

type fakeReconciler struct{ runs int }

func (r *fakeReconciler) Run(ctx context.Context) error {
	r.runs++
	return nil
}

func blockHeaderEvent(hash string) sse.BlockHeaderEvent {
	return sse.BlockHeaderEvent{Envelope: node.Envelope{
		Header: node.Header{
			Hash:         hash,
			ChainID:      0,
			CreationTime: "1700000000",
			EpochStart:   "1700000000",
			Weight:       "1",
			Adjacents:    map[string]string{},
		},
		PayloadWithOutputs: node.PayloadWithOutputs{
			MinerData: base64.StdEncoding.EncodeToString([]byte(`{}`)),
		},
	}}
}

func TestTipStreamer_HandleEvent_DropsDuplicateByHash(t *testing.T) {
	dedup := &fakeDeduper{}
	uowFac := &fakeUOWFactory{}
	errs := &fakeStreamErrRepo{}
	ts := New(Config{}, dedup, uowFac, errs, bus.New(0), &fakeReconciler{}, slog.Default())

	ev := blockHeaderEvent("dup-hash")
	ts.handleEvent(context.Background(), ev)
	ts.handleEvent(context.Background(), ev)

	if len(uowFac.blocks) != 1 {
		t.Fatalf("expected the duplicate event to be dropped before persistence, got %d blocks", len(uowFac.blocks))
	}
}

func TestTipStreamer_HandleEvent_RecordsStreamingErrorOnMaterialiseFailure(t *testing.T) {
	dedup := &fakeDeduper{}
	uowFac := &fakeUOWFactory{}
	errs := &fakeStreamErrRepo{}
	ts := New(Config{}, dedup, uowFac, errs, bus.New(0), &fakeReconciler{}, slog.Default())

	ev := blockHeaderEvent("bad-hash")
	ev.Header.CreationTime = "not-a-number"
	ts.handleEvent(context.Background(), ev)

	if len(errs.created) != 1 {
		t.Fatalf("expected a streaming error to be recorded, got %d", len(errs.created))
	}
}

func TestTipStreamer_ScheduleGuards_RunsImmediatelyThenStops(t *testing.T) {
	reconciler := &fakeReconciler{}
	ts := New(Config{GuardsInterval: time.Hour}, &fakeDeduper{}, &fakeUOWFactory{}, &fakeStreamErrRepo{}, bus.New(0), reconciler, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ts.scheduleGuards(ctx)

	if reconciler.runs != 1 {
		t.Fatalf("expected exactly one immediate run before the ticker loop exits, got %d", reconciler.runs)
	}
}
