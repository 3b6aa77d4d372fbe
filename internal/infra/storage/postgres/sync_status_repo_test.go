package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/watcher/internal/core/domain"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = mockDB.Close() })
	return &DB{DB: sqlx.NewDb(mockDB, "pgx")}, mock
}

// TestNextMissingRange_ReportsInclusiveRangeWithoutOffByOne exercises the
// gaps-and-islands query against a mocked row set matching spec §8
// scenario 4's example (heights {100,101,103,104} -> gap [102,102]): the
// repo must report the CTE's to_height unchanged, not to_height+1.
func TestNextMissingRange_ReportsInclusiveRangeWithoutOffByOne(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncStatusRepo(db)

	mock.ExpectQuery("SELECT min\\(height\\) AS from_height, max\\(height\\) AS to_height").
		WillReturnRows(sqlmock.NewRows([]string{"from_height", "to_height"}).AddRow(int64(102), int64(102)))

	ranges, err := repo.NextMissingRange(context.Background(), domain.Network("mainnet01"), 0, 100, 105, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected exactly one gap, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0] != (domain.HeightRange{FromHeight: 102, ToHeight: 102}) {
		t.Fatalf("expected inclusive gap [102,102], got %+v", ranges[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestNextMissingRange_FloorAtOrAboveTipReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncStatusRepo(db)

	ranges, err := repo.NextMissingRange(context.Background(), domain.Network("mainnet01"), 0, 100, 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranges != nil {
		t.Fatalf("expected no ranges when floorHeight >= tip, got %+v", ranges)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query issued: %v", err)
	}
}
