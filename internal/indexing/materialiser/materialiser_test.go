package materialiser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/infra/node"
)

type fakeUOW struct {
	blocks       map[string]*domain.Block
	blocksByHeight map[uint64][]*domain.Block
	transactions []*domain.Transaction
	signers      []*domain.Signer
	events       []*domain.Event
	transfers    []*domain.Transfer
	balances     map[string]string
	canonical    map[string]string
	committed    bool
	rolledBack   bool
}

func newFakeUOW() *fakeUOW {
	return &fakeUOW{
		blocks:         make(map[string]*domain.Block),
		blocksByHeight: make(map[uint64][]*domain.Block),
		balances:       make(map[string]string),
		canonical:      make(map[string]string),
	}
}

func (f *fakeUOW) Commit() error   { f.committed = true; return nil }
func (f *fakeUOW) Rollback() error { f.rolledBack = true; return nil }

func (f *fakeUOW) InsertBlock(ctx context.Context, b *domain.Block) (bool, error) {
	if _, exists := f.blocks[b.Hash]; exists {
		return false, nil
	}
	f.blocks[b.Hash] = b
	f.blocksByHeight[b.Height] = append(f.blocksByHeight[b.Height], b)
	return true, nil
}

func (f *fakeUOW) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	t.ID = int64(len(f.transactions) + 1)
	f.transactions = append(f.transactions, t)
	return nil
}

func (f *fakeUOW) InsertSigner(ctx context.Context, s *domain.Signer) error {
	f.signers = append(f.signers, s)
	return nil
}

func (f *fakeUOW) InsertEvent(ctx context.Context, e *domain.Event) error {
	e.ID = int64(len(f.events) + 1)
	f.events = append(f.events, e)
	return nil
}

func (f *fakeUOW) InsertTransfer(ctx context.Context, tr *domain.Transfer) error {
	f.transfers = append(f.transfers, tr)
	return nil
}

func (f *fakeUOW) UpsertBalanceDelta(ctx context.Context, account string, chainID domain.ChainID, module string, tokenID string, delta string) error {
	key := fmt.Sprintf("%s:%d:%s:%s", account, chainID, module, tokenID)
	f.balances[key] = delta
	return nil
}

func (f *fakeUOW) SetCanonical(ctx context.Context, chainID domain.ChainID, height uint64, canonicalHash string) error {
	f.canonical[fmt.Sprintf("%d:%d", chainID, height)] = canonicalHash
	return nil
}

func (f *fakeUOW) BlockAtHeight(ctx context.Context, chainID domain.ChainID, height uint64) ([]*domain.Block, error) {
	var out []*domain.Block
	for _, b := range f.blocksByHeight[height] {
		if b.ChainID == chainID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeUOW) SaveCursor(ctx context.Context, s *domain.SyncStatus) error      { return nil }
func (f *fakeUOW) DeleteSyncError(ctx context.Context, id int64) error            { return nil }
func (f *fakeUOW) DeleteStreamingError(ctx context.Context, hash string) error    { return nil }
func (f *fakeUOW) CreateStreamingError(ctx context.Context, e *domain.StreamingError) error {
	return nil
}

func b64(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func buildEnvelope(hash, parentHash string, height uint64, weight string) node.Envelope {
	return node.Envelope{
		Header: node.Header{
			Hash:         hash,
			ChainID:      0,
			Height:       height,
			ParentHash:   parentHash,
			CreationTime: "1700000000",
			EpochStart:   "1700000000",
			FeatureFlags: 0,
			Weight:       weight,
			Target:       "target",
			Nonce:        "1",
			PayloadHash:  "payload-" + hash,
			Adjacents:    map[string]string{},
		},
		PayloadWithOutputs: node.PayloadWithOutputs{
			MinerData:        b64(map[string]string{"account": "miner"}),
			Coinbase:         "",
			Transactions:     [][2]string{},
			TransactionsHash: "txhash",
			OutputsHash:      "outhash",
		},
	}
}

func TestMaterialise_InsertsBlockAndReturnsDispatch(t *testing.T) {
	uow := newFakeUOW()
	env := buildEnvelope("hashA", "", 1, "10")

	dispatch, err := Materialise(context.Background(), uow, domain.SourceArchive, domain.Network("mainnet01"), 0, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dispatch == nil {
		t.Fatal("expected a dispatch for a new block")
	}
	if dispatch.Hash != "hashA" || dispatch.Height != 1 {
		t.Fatalf("unexpected dispatch: %+v", dispatch)
	}
	if uow.committed || uow.rolledBack {
		t.Fatalf("materialiser should not itself commit or rollback")
	}
}

func TestMaterialise_DuplicateHashIsIdempotent(t *testing.T) {
	uow := newFakeUOW()
	env := buildEnvelope("hashB", "", 5, "10")

	if _, err := Materialise(context.Background(), uow, domain.SourceArchive, domain.Network("mainnet01"), 0, env); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}

	dispatch, err := Materialise(context.Background(), uow, domain.SourceArchive, domain.Network("mainnet01"), 0, env)
	if err != nil {
		t.Fatalf("unexpected error on duplicate insert: %v", err)
	}
	if dispatch != nil {
		t.Fatalf("expected nil dispatch for a duplicate hash, got %+v", dispatch)
	}
}

func TestMaterialise_ReconcilesCanonicalByWeight(t *testing.T) {
	uow := newFakeUOW()

	light := buildEnvelope("light", "parent", 7, "10")
	heavy := buildEnvelope("heavy", "parent", 7, "20")

	if _, err := Materialise(context.Background(), uow, domain.SourceAPI, domain.Network("mainnet01"), 0, light); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Materialise(context.Background(), uow, domain.SourceAPI, domain.Network("mainnet01"), 0, heavy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := uow.canonical["0:7"]
	if got != "heavy" {
		t.Fatalf("expected heavy block to win canonicalisation, got %q", got)
	}
}

func TestMaterialise_ReconcilesDescendantsOnDeeperReorg(t *testing.T) {
	uow := newFakeUOW()

	light := buildEnvelope("light", "parent", 7, "10")
	lightChild := buildEnvelope("light-child", "light", 8, "15")
	heavy := buildEnvelope("heavy", "parent", 7, "20")

	if _, err := Materialise(context.Background(), uow, domain.SourceAPI, domain.Network("mainnet01"), 0, light); err != nil {
		t.Fatalf("unexpected error inserting light: %v", err)
	}
	if _, err := Materialise(context.Background(), uow, domain.SourceAPI, domain.Network("mainnet01"), 0, lightChild); err != nil {
		t.Fatalf("unexpected error inserting light-child: %v", err)
	}
	if _, err := Materialise(context.Background(), uow, domain.SourceAPI, domain.Network("mainnet01"), 0, heavy); err != nil {
		t.Fatalf("unexpected error inserting heavy: %v", err)
	}

	if got := uow.canonical["0:7"]; got != "heavy" {
		t.Fatalf("expected heavy block to win canonicalisation at height 7, got %q", got)
	}
	if got, ok := uow.canonical["0:8"]; !ok || got != "" {
		t.Fatalf("expected light-child at height 8 to lose canonical status (descends from losing fork), got %q (set=%v)", got, ok)
	}
}

func TestIsHeavier_TiesBreakByHash(t *testing.T) {
	a := &domain.Block{Hash: "zzz", Weight: "10"}
	b := &domain.Block{Hash: "aaa", Weight: "10"}

	if !isHeavier(a, b) {
		t.Fatalf("expected %q to be heavier than %q on hash tie-break", a.Hash, b.Hash)
	}
	if isHeavier(b, a) {
		t.Fatalf("tie-break must be asymmetric")
	}
}
