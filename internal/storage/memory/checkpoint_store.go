package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlkit/internal/checkpoint"
)

// CheckpointStore keeps checkpoint state in memory.
type CheckpointStore struct {
	mu     sync.RWMutex
	states map[string]checkpoint.State
}

// NewCheckpointStore constructs an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{states: make(map[string]checkpoint.State)}
}

// Load returns the state for crawl.
func (s *CheckpointStore) Load(_ context.Context, crawl string) (checkpoint.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[crawl]
	return st, ok, nil
}

// Save replaces the state for state.Crawl.
func (s *CheckpointStore) Save(_ context.Context, state checkpoint.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Crawl] = state
	return nil
}
