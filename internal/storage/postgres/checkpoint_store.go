package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawlkit/internal/checkpoint"
)

// CheckpointStore keeps one row per crawl. Saves never move the version
// backwards, so a stale writer cannot clobber a newer checkpoint.
type CheckpointStore struct {
	db *DB
}

// CheckpointStore returns the checkpoint store backed by d.
func (d *DB) CheckpointStore() *CheckpointStore {
	return &CheckpointStore{db: d}
}

// Load returns the checkpoint for crawl.
func (s *CheckpointStore) Load(ctx context.Context, crawl string) (checkpoint.State, bool, error) {
	query := fmt.Sprintf(`SELECT crawl, last_completed, last_id, version, updated_at FROM %s WHERE crawl = $1`,
		s.db.table("checkpoints"))
	var st checkpoint.State
	err := s.db.pool.QueryRow(ctx, query, crawl).Scan(&st.Crawl, &st.LastCompleted, &st.LastID, &st.Version, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.State{}, false, nil
	}
	if err != nil {
		return checkpoint.State{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return st, true, nil
}

// Save upserts state.
func (s *CheckpointStore) Save(ctx context.Context, state checkpoint.State) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (crawl, last_completed, last_id, version, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (crawl) DO UPDATE
SET last_completed = EXCLUDED.last_completed,
	last_id = EXCLUDED.last_id,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at
WHERE %[1]s.version <= EXCLUDED.version`, s.db.table("checkpoints"))
	if _, err := s.db.pool.Exec(ctx, query,
		state.Crawl, state.LastCompleted, state.LastID, state.Version, state.UpdatedAt); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
