// Package postgres provides Postgres-backed persistence for crawl state and
// extracted records.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DB holds the pool shared by the fingerprint, checkpoint, failure, and
// record stores.
type DB struct {
	pool   pool
	prefix string
}

// Open connects to Postgres using cfg.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db, err := NewWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return db, nil
}

// NewWithPool constructs a DB from an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string) (*DB, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = "crawlkit_"
	}
	if !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &DB{pool: p, prefix: prefix}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	if d == nil || d.pool == nil {
		return
	}
	d.pool.Close()
}

func (d *DB) table(name string) string {
	return d.prefix + name
}

// Migrate creates the tables the stores need if they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	fingerprint TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, d.table("fingerprints")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	crawl TEXT PRIMARY KEY,
	last_completed BIGINT NOT NULL,
	last_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, d.table("checkpoints")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	item_id TEXT PRIMARY KEY,
	item_index BIGINT NOT NULL,
	failure JSONB NOT NULL
)`, d.table("failures")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	fingerprint TEXT PRIMARY KEY,
	item_id TEXT NOT NULL,
	item_index BIGINT NOT NULL,
	url TEXT NOT NULL,
	fields JSONB NOT NULL,
	content TEXT NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL
)`, d.table("records")),
	}
	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
