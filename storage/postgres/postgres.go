// Package postgres implements the edgegate persistence ports on
// PostgreSQL: incident records, session tracking, and the durable
// rate-limit rows behind the atomic limiter. Schema management is embedded
// goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
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

// Store is the PostgreSQL backend.
type Store struct {
	db    *sqlx.DB
	clock Clock
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, clock: systemClock{}}
}

// Connect opens a pool, verifies connectivity, and returns a Store.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return New(db), nil
}

// SetClock overrides the time source (tests only).
func (s *Store) SetClock(c Clock) { s.clock = c }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations on the store's pool.
func (s *Store) Migrate() error {
	return Migrate(s.db.DB)
}
