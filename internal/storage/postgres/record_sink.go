package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// RecordSink writes extracted records into the records table. Rewrites of the
// same fingerprint are no-ops, which keeps replay after a crash idempotent.
type RecordSink struct {
	db *DB
}

// RecordSink returns a record sink backed by d.
func (d *DB) RecordSink() *RecordSink {
	return &RecordSink{db: d}
}

// Write inserts record unless its fingerprint is already stored.
func (s *RecordSink) Write(ctx context.Context, record crawler.Record) error {
	if record.Fingerprint == "" {
		return fmt.Errorf("record fingerprint is required")
	}
	fields := record.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return crawler.NewStorageError("write record", fmt.Errorf("marshal fields: %w", err))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (fingerprint, item_id, item_index, url, fields, content, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (fingerprint) DO NOTHING`, s.db.table("records"))
	if _, err := s.db.pool.Exec(ctx, query,
		record.Fingerprint,
		record.ItemID,
		record.ItemIndex,
		record.URL,
		fieldsJSON,
		record.Content,
		record.ExtractedAt,
	); err != nil {
		return crawler.NewStorageError("write record", err)
	}
	return nil
}

// Fingerprints lists the fingerprints already written.
func (s *RecordSink) Fingerprints(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT fingerprint FROM %s`, s.db.table("records"))
	rows, err := s.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query record fingerprints: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record fingerprints: %w", err)
	}
	return out, nil
}

// Close is a no-op; the pool is owned by DB.
func (s *RecordSink) Close() error {
	return nil
}
