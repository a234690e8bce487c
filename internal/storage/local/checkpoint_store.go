package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/JakeFAU/crawlkit/internal/checkpoint"
)

var validCrawlName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// CheckpointStore keeps one JSON file per crawl, replaced atomically.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates a store rooted at dir.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) path(crawl string) (string, error) {
	if !validCrawlName.MatchString(crawl) {
		return "", fmt.Errorf("invalid crawl name %q", crawl)
	}
	return safeJoin(s.dir, crawl+".checkpoint.json")
}

// Load reads the checkpoint for crawl. A missing file means a fresh crawl.
func (s *CheckpointStore) Load(_ context.Context, crawl string) (checkpoint.State, bool, error) {
	p, err := s.path(crawl)
	if err != nil {
		return checkpoint.State{}, false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return checkpoint.State{}, false, nil
	}
	if err != nil {
		return checkpoint.State{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var st checkpoint.State
	if err := json.Unmarshal(data, &st); err != nil {
		return checkpoint.State{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return st, true, nil
}

// Save atomically replaces the checkpoint file for state.Crawl.
func (s *CheckpointStore) Save(_ context.Context, state checkpoint.State) error {
	p, err := s.path(state.Crawl)
	if err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return WriteFileAtomic(p, data)
}
