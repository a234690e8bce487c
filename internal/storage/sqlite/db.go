// Package sqlite stores crawl state (fingerprints, checkpoints, and the
// failure ledger) in a single SQLite database file.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps the SQLite handle shared by the stores.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fingerprints (
		fingerprint TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS checkpoints (
		crawl TEXT PRIMARY KEY,
		last_completed INTEGER NOT NULL,
		last_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS failures (
		item_id TEXT PRIMARY KEY,
		item_index INTEGER NOT NULL,
		failure TEXT NOT NULL
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
