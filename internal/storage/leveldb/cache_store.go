package leveldb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	goleveldb "github.com/syndtr/goleveldb/leveldb"

	"github.com/JakeFAU/crawlkit/internal/cache"
	"github.com/JakeFAU/crawlkit/internal/metrics"
)

type cacheMeta struct {
	Size       int64
	LastAccess int64
}

// CacheStore is the disk cache tier. An in-memory index of access times
// drives eviction of the least recently used tenth once capacity is
// exceeded.
type CacheStore struct {
	db         *DB
	maxEntries int

	mu    sync.Mutex
	index map[string]cacheMeta
}

// CacheStore opens the cache tier holding at most maxEntries entries.
func (d *DB) CacheStore(maxEntries int) (*CacheStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache max entries must be > 0")
	}
	s := &CacheStore{db: d, maxEntries: maxEntries, index: make(map[string]cacheMeta)}
	err := d.forEach(prefixCacheMeta, func(key string, value []byte) error {
		var meta cacheMeta
		if decodeGob(value, &meta) == nil {
			s.index[key] = meta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get reads the entry for key and refreshes its access time.
func (s *CacheStore) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	b, err := s.db.db.Get([]byte(prefixCacheEntry+key), nil)
	if errors.Is(err, goleveldb.ErrNotFound) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	var entry cache.Entry
	if err := decodeGob(b, &entry); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}

	// The access time is written under mu so eviction cannot interleave and
	// leave a meta row for a deleted entry.
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta, ok := s.index[key]; ok {
		meta.LastAccess = time.Now().UnixNano()
		s.index[key] = meta
		if mb, err := encodeGob(meta); err == nil {
			_ = s.db.db.Put([]byte(prefixCacheMeta+key), mb, nil)
		}
	}
	return entry, true, nil
}

// Put writes entry and its metadata in one batch, then evicts if over
// capacity.
func (s *CacheStore) Put(_ context.Context, entry cache.Entry) error {
	b, err := encodeGob(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	meta := cacheMeta{Size: int64(len(b)), LastAccess: time.Now().UnixNano()}
	mb, err := encodeGob(meta)
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(goleveldb.Batch)
	batch.Put([]byte(prefixCacheEntry+entry.Key), b)
	batch.Put([]byte(prefixCacheMeta+entry.Key), mb)
	if err := s.db.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	s.index[entry.Key] = meta
	if len(s.index) > s.maxEntries {
		return s.evictLocked()
	}
	return nil
}

// Len returns the number of stored entries.
func (s *CacheStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// evictLocked removes the least recently used entries. Callers hold mu.
func (s *CacheStore) evictLocked() error {
	type item struct {
		key  string
		meta cacheMeta
	}
	items := make([]item, 0, len(s.index))
	for k, m := range s.index {
		items = append(items, item{k, m})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].meta.LastAccess < items[j].meta.LastAccess
	})
	n := len(items) - s.maxEntries
	if tenth := len(items) / 10; tenth > n {
		n = tenth
	}
	if n < 1 {
		n = 1
	}

	batch := new(goleveldb.Batch)
	for i := 0; i < n && i < len(items); i++ {
		batch.Delete([]byte(prefixCacheEntry + items[i].key))
		batch.Delete([]byte(prefixCacheMeta + items[i].key))
	}
	if err := s.db.db.Write(batch, nil); err != nil {
		return fmt.Errorf("evict cache entries: %w", err)
	}
	for i := 0; i < n && i < len(items); i++ {
		delete(s.index, items[i].key)
	}
	metrics.ObserveCacheEviction("leveldb", n)
	return nil
}
