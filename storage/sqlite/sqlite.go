// Package sqlite implements the edgegate persistence ports on SQLite, for
// single-node deployments that want durable state without running a
// database server. The atomic limiter uses single conditional updates
// instead of serializable transactions; SQLite's single-writer model makes
// each statement atomic on its own.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store is the SQLite backend.
type Store struct {
	db    *sqlx.DB
	clock Clock
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, clock: systemClock{}}
}

// Open opens (and creates if needed) the database file and returns a
// Store. Foreign keys and WAL mode are enabled; the pool is capped at one
// writer connection, matching SQLite's locking model.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(c Clock) { s.clock = c }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations on the store's handle.
func (s *Store) Migrate() error {
	return Migrate(s.db.DB)
}
