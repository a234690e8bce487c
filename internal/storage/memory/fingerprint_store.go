package memory

import (
	"context"
	"sync"
)

// FingerprintStore is a non-durable fingerprint set.
type FingerprintStore struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewFingerprintStore constructs an empty FingerprintStore.
func NewFingerprintStore() *FingerprintStore {
	return &FingerprintStore{set: make(map[string]struct{})}
}

// Has reports whether fp is present.
func (s *FingerprintStore) Has(_ context.Context, fp string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[fp]
	return ok, nil
}

// Add inserts fp and reports whether it was new.
func (s *FingerprintStore) Add(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[fp]; ok {
		return false, nil
	}
	s.set[fp] = struct{}{}
	return true, nil
}

// Count returns the number of fingerprints.
func (s *FingerprintStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.set)), nil
}
