// Package postgres implements the durable side of every repository
// interface in internal/infra/storage, plus the UnitOfWork the
// materialiser, Archive Backfiller, and Gap Filler write through.
// Grounded on the teacher's infra/storage/postgres/{db.go,unit_of_work.go,
// cursor_repo.go}. The teacher's queries went through a generated `sqlc`
// package that is referenced but not present anywhere in the retrieved
// pack (no sqlc.yaml, no generated sources) and cannot be regenerated
// without running the Go toolchain, so this package hand-writes the same
// queries against database/sql via sqlx instead (DESIGN.md).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB opens a connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	sqlDB, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(minConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// Health checks database connectivity.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// NewUnitOfWork begins a transaction and returns the write path described
// in internal/infra/storage.UnitOfWork (spec §4.5 atomicity requirement).
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}
