// Package postgres implements internal/store.Store against PostgreSQL
// using sqlx + lib/pq: prepared upserts, per-call timeouts, and one
// shared connection pool per process.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns reasonable pool defaults.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Repository implements store.Store over a single *sqlx.DB.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and returns a ready Repository.
func Open(cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Repository{db: db, timeout: timeout}, nil
}

// NewFromDB wraps an already-open *sqlx.DB (used by sqlmock-backed tests).
func NewFromDB(db *sqlx.DB, timeout time.Duration) *Repository {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Repository{db: db, timeout: timeout}
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}
