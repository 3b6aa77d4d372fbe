package postgres

import (
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrate applies every pending migration under dir. Grounded on the
// teacher's control/watcher.go, which runs goose against the raw *sql.DB
// right after opening the pool, before any repository is constructed.
func Migrate(db *DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB.DB, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
