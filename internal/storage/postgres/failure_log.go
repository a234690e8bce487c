package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

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
	query := fmt.Sprintf(`
INSERT INTO %s (item_id, item_index, failure) VALUES ($1, $2, $3)
ON CONFLICT (item_id) DO UPDATE SET item_index = EXCLUDED.item_index, failure = EXCLUDED.failure`,
		l.db.table("failures"))
	if _, err := l.db.pool.Exec(ctx, query, f.Item.ID, f.Item.Index, payload); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Failures returns every ledger entry ordered by item index.
func (l *FailureLog) Failures(ctx context.Context) ([]crawler.Failure, error) {
	query := fmt.Sprintf(`SELECT failure FROM %s ORDER BY item_index`, l.db.table("failures"))
	rows, err := l.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []crawler.Failure
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		var f crawler.Failure
		if err := json.Unmarshal(payload, &f); err != nil {
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
	query := fmt.Sprintf(`DELETE FROM %s WHERE item_id = $1`, l.db.table("failures"))
	if _, err := l.db.pool.Exec(ctx, query, itemID); err != nil {
		return fmt.Errorf("remove failure: %w", err)
	}
	return nil
}
