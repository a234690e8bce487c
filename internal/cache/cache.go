// Package cache implements the request cache: exact-key lookups with a
// freshness window, pluggable LRU-evicting stores, and coalescing of
// concurrent misses so at most one fetch per key is in flight.
package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// Store persists entries. Stale entries stay until capacity forces an LRU
// eviction.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Len() int
}

// FetchFunc produces a fresh entry on a miss.
type FetchFunc func(ctx context.Context) (Entry, error)

// Cache fronts a Store with freshness checks and miss coalescing.
type Cache struct {
	store   Store
	flights singleflight.Group
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Cache over store.
func New(store Store, clock crawler.Clock, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, clock: clock, logger: logger}
}

// Get returns the entry for key if present and fresh. Store failures are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !ok || !entry.Fresh(c.clock.Now()) {
		return Entry{}, false
	}
	return entry, true
}

// Put stores entry, overwriting any previous value for its key.
func (c *Cache) Put(ctx context.Context, entry Entry) {
	if entry.Key == "" {
		return
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Warn("cache put failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

// Len reports the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Source tells a Do caller where its entry came from.
type Source int

// Entry sources.
const (
	// FromCache means a fresh stored entry was returned.
	FromCache Source = iota
	// FromFetch means a fetch ran for this caller alone.
	FromFetch
	// FromFlight means one fetch served several concurrent callers.
	FromFlight
)

type flightResult struct {
	entry  Entry
	cached bool
}

// Do returns a fresh entry for key, calling fetch on a miss. Concurrent
// callers for the same key share a single fetch and all observe its result,
// success or failure.
func (c *Cache) Do(ctx context.Context, key string, fetch FetchFunc) (Entry, Source, error) {
	if entry, ok := c.Get(ctx, key); ok {
		metrics.ObserveCacheLookup("hit")
		return entry, FromCache, nil
	}
	for {
		ch := c.flights.DoChan(key, func() (any, error) {
			if entry, ok := c.Get(ctx, key); ok {
				return flightResult{entry: entry, cached: true}, nil
			}
			entry, err := fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &leaderCanceled{err: err}
				}
				return nil, err
			}
			entry.Key = key
			c.Put(ctx, entry)
			return flightResult{entry: entry}, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return Entry{}, FromFlight, fmt.Errorf("cache wait: %w", ctx.Err())
		case res = <-ch:
		}

		if res.Err != nil {
			var lc *leaderCanceled
			if errors.As(res.Err, &lc) {
				// The flight leader's context ended, not ours: lead a new flight.
				if ctx.Err() == nil {
					continue
				}
				return Entry{}, FromFlight, fmt.Errorf("cache wait: %w", ctx.Err())
			}
			if res.Shared {
				metrics.ObserveCacheLookup("coalesced")
				return Entry{}, FromFlight, res.Err
			}
			metrics.ObserveCacheLookup("miss")
			return Entry{}, FromFetch, res.Err
		}
		fr, ok := res.Val.(flightResult)
		if !ok {
			return Entry{}, FromFlight, fmt.Errorf("cache flight returned %T", res.Val)
		}
		switch {
		case fr.cached:
			metrics.ObserveCacheLookup("hit")
			return fr.entry, FromCache, nil
		case res.Shared:
			metrics.ObserveCacheLookup("coalesced")
			return fr.entry, FromFlight, nil
		default:
			metrics.ObserveCacheLookup("miss")
			return fr.entry, FromFetch, nil
		}
	}
}

// leaderCanceled wraps a fetch error produced after the flight leader's own
// context ended. Waiters with a live context retry instead of inheriting it.
type leaderCanceled struct {
	err error
}

func (e *leaderCanceled) Error() string { return e.err.Error() }

func (e *leaderCanceled) Unwrap() error { return e.err }
