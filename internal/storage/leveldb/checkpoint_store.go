package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"github.com/JakeFAU/crawlkit/internal/checkpoint"
)

// CheckpointStore keeps one checkpoint record per crawl. A synced single-key
// put is atomic under the leveldb journal.
type CheckpointStore struct {
	db *DB
}

// CheckpointStore returns the checkpoint store.
func (d *DB) CheckpointStore() *CheckpointStore {
	return &CheckpointStore{db: d}
}

// Load returns the checkpoint for crawl.
func (s *CheckpointStore) Load(_ context.Context, crawl string) (checkpoint.State, bool, error) {
	b, err := s.db.db.Get([]byte(prefixCheckpoint+crawl), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return checkpoint.State{}, false, nil
	}
	if err != nil {
		return checkpoint.State{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	var st checkpoint.State
	if err := json.Unmarshal(b, &st); err != nil {
		return checkpoint.State{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return st, true, nil
}

// Save durably replaces the checkpoint for state.Crawl.
func (s *CheckpointStore) Save(_ context.Context, state checkpoint.State) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.db.db.Put([]byte(prefixCheckpoint+state.Crawl), b, syncWrite); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}
