package leveldb

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FingerprintStore is the durable fingerprint set. Callers serialize Add per
// fingerprint; dedup.Index does so with striped locks.
type FingerprintStore struct {
	db    *DB
	count atomic.Int64
}

// FingerprintStore opens the fingerprint set, counting existing entries.
func (d *DB) FingerprintStore() (*FingerprintStore, error) {
	s := &FingerprintStore{db: d}
	var n int64
	if err := d.forEach(prefixFinger, func(string, []byte) error {
		n++
		return nil
	}); err != nil {
		return nil, err
	}
	s.count.Store(n)
	return s, nil
}

// Has reports whether fp is present.
func (s *FingerprintStore) Has(_ context.Context, fp string) (bool, error) {
	ok, err := s.db.db.Has([]byte(prefixFinger+fp), nil)
	if err != nil {
		return false, fmt.Errorf("has fingerprint: %w", err)
	}
	return ok, nil
}

// Add durably inserts fp and reports whether it was new.
func (s *FingerprintStore) Add(ctx context.Context, fp string) (bool, error) {
	ok, err := s.Has(ctx, fp)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.db.db.Put([]byte(prefixFinger+fp), nil, syncWrite); err != nil {
		return false, fmt.Errorf("put fingerprint: %w", err)
	}
	s.count.Add(1)
	return true, nil
}

// Count returns the number of fingerprints.
func (s *FingerprintStore) Count(context.Context) (int64, error) {
	return s.count.Load(), nil
}
