package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/crawlkit/internal/checkpoint"
	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// FingerprintStore is the durable fingerprint set.
type FingerprintStore struct {
	db *DB
}

// FingerprintStore returns the fingerprint set backed by d.
func (d *DB) FingerprintStore() *FingerprintStore {
	return &FingerprintStore{db: d}
}

// Has reports whether fp is present.
func (s *FingerprintStore) Has(ctx context.Context, fp string) (bool, error) {
	var one int
	err := s.db.db.QueryRowContext(ctx, "SELECT 1 FROM fingerprints WHERE fingerprint = ?", fp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return true, nil
}

// Add inserts fp and reports whether it was new.
func (s *FingerprintStore) Add(ctx context.Context, fp string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, "INSERT OR IGNORE INTO fingerprints (fingerprint) VALUES (?)", fp)
	if err != nil {
		return false, fmt.Errorf("insert fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert fingerprint: %w", err)
	}
	return n == 1, nil
}

// Count returns the number of fingerprints.
func (s *FingerprintStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.db.QueryRowContext(ctx, "SELECT count(*) FROM fingerprints").Scan(&n); err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return n, nil
}

// CheckpointStore keeps one checkpoint row per crawl.
type CheckpointStore struct {
	db *DB
}

// CheckpointStore returns the checkpoint store backed by d.
func (d *DB) CheckpointStore() *CheckpointStore {
	return &CheckpointStore{db: d}
}

// Load returns the checkpoint for crawl.
func (s *CheckpointStore) Load(ctx context.Context, crawl string) (checkpoint.State, bool, error) {
	var (
		st        checkpoint.State
		updatedAt string
	)
	err := s.db.db.QueryRowContext(ctx,
		"SELECT crawl, last_completed, last_id, version, updated_at FROM checkpoints WHERE crawl = ?", crawl).
		Scan(&st.Crawl, &st.LastCompleted, &st.LastID, &st.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.State{}, false, nil
	}
	if err != nil {
		return checkpoint.State{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return checkpoint.State{}, false, fmt.Errorf("parse checkpoint time: %w", err)
	}
	return st, true, nil
}

// Save upserts state inside a transaction.
func (s *CheckpointStore) Save(ctx context.Context, state checkpoint.State) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO checkpoints (crawl, last_completed, last_id, version, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (crawl) DO UPDATE SET
		last_completed = excluded.last_completed,
		last_id = excluded.last_id,
		version = excluded.version,
		updated_at = excluded.updated_at`,
		state.Crawl, state.LastCompleted, state.LastID, state.Version,
		state.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// FailureLog is the durable failure ledger.
type FailureLog struct {
	db *DB
}

// FailureLog returns the failure ledger backed by d.
func (d *DB) FailureLog() *FailureLog {
	return &FailureLog{db: d}
}

// RecordFailure upserts f keyed by item ID.
func (l *FailureLog) RecordFailure(ctx context.Context, f crawler.Failure) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	_, err = l.db.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO failures (item_id, item_index, failure) VALUES (?, ?, ?)",
		f.Item.ID, f.Item.Index, string(payload))
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Failures returns every ledger entry ordered by item index.
func (l *FailureLog) Failures(ctx context.Context) ([]crawler.Failure, error) {
	rows, err := l.db.db.QueryContext(ctx, "SELECT failure FROM failures ORDER BY item_index")
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []crawler.Failure
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		var f crawler.Failure
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return nil, fmt.Errorf("decode failure: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// RemoveFailure deletes the entry for itemID.
func (l *FailureLog) RemoveFailure(ctx context.Context, itemID string) error {
	if _, err := l.db.db.ExecContext(ctx, "DELETE FROM failures WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("remove failure: %w", err)
	}
	return nil
}
