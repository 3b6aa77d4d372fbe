package cursor

import (
	"context"
	"testing"

	"github.com/vietddude/watcher/internal/core/domain"
)

type fakeSyncStatusRepo struct {
	status *domain.SyncStatus
	ranges []domain.HeightRange
}

func (f *fakeSyncStatusRepo) FindLastCursor(ctx context.Context, network domain.Network, chainID domain.ChainID, prefix string, source domain.Source) (*domain.SyncStatus, error) {
	if f.status == nil {
		return nil, ErrNotFound
	}
	return f.status, nil
}

func (f *fakeSyncStatusRepo) LastSyncForAllChains(ctx context.Context, network domain.Network, sources []domain.Source) ([]*domain.SyncStatus, error) {
	if f.status == nil {
		return nil, nil
	}
	return []*domain.SyncStatus{f.status}, nil
}

func (f *fakeSyncStatusRepo) NextMissingRange(ctx context.Context, network domain.Network, chainID domain.ChainID, floorHeight, tip uint64, limit int) ([]domain.HeightRange, error) {
	return f.ranges, nil
}

func TestLedger_NextMissingRange_EmptyWhenFloorAtOrAboveTip(t *testing.T) {
	l := NewLedger(&fakeSyncStatusRepo{ranges: []domain.HeightRange{{FromHeight: 10, ToHeight: 20}}})

	got, err := l.NextMissingRange(context.Background(), "mainnet01", 0, 100, 100, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no ranges when floor >= tip, got %v", got)
	}
}

func TestLedger_NextMissingRange_DelegatesToRepo(t *testing.T) {
	want := []domain.HeightRange{{FromHeight: 102, ToHeight: 102}}
	l := NewLedger(&fakeSyncStatusRepo{ranges: want})

	got, err := l.NextMissingRange(context.Background(), "mainnet01", 3, 0, 105, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLedger_FindLastCursor_NotFound(t *testing.T) {
	l := NewLedger(&fakeSyncStatusRepo{})

	_, err := l.FindLastCursor(context.Background(), "mainnet01", 0, "headers/", domain.SourceArchive)
	if err == nil {
		t.Fatalf("expected an error when no cursor exists")
	}
}
