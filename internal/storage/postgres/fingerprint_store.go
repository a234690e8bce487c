package postgres

import (
	"context"
	"fmt"
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
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE fingerprint = $1)`, s.db.table("fingerprints"))
	if err := s.db.pool.QueryRow(ctx, query, fp).Scan(&exists); err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return exists, nil
}

// Add inserts fp and reports whether the row was new.
func (s *FingerprintStore) Add(ctx context.Context, fp string) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (fingerprint) VALUES ($1) ON CONFLICT (fingerprint) DO NOTHING`,
		s.db.table("fingerprints"))
	tag, err := s.db.pool.Exec(ctx, query, fp)
	if err != nil {
		return false, fmt.Errorf("insert fingerprint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of fingerprints.
func (s *FingerprintStore) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, s.db.table("fingerprints"))
	if err := s.db.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return n, nil
}
