package memory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/crawlkit/internal/cache"
	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// CacheStore is a fixed-capacity LRU cache tier.
type CacheStore struct {
	entries *lru.Cache[string, cache.Entry]
}

// NewCacheStore creates a store holding at most capacity entries.
func NewCacheStore(capacity int) (*CacheStore, error) {
	entries, err := lru.NewWithEvict(capacity, func(string, cache.Entry) {
		metrics.ObserveCacheEviction("memory", 1)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &CacheStore{entries: entries}, nil
}

// Get returns the entry for key and marks it recently used.
func (s *CacheStore) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	e, ok := s.entries.Get(key)
	return e, ok, nil
}

// Put inserts or overwrites entry, evicting the least recently used entry
// when full.
func (s *CacheStore) Put(_ context.Context, entry cache.Entry) error {
	s.entries.Add(entry.Key, entry)
	return nil
}

// Len returns the number of entries held.
func (s *CacheStore) Len() int {
	return s.entries.Len()
}
