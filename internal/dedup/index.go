// Package dedup detects semantically duplicate records across URLs and runs
// by fingerprinting extracted content into a durable, append-only index.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Store is the durable set of recorded fingerprints.
type Store interface {
	Has(ctx context.Context, fp string) (bool, error)
	// Add records fp and reports whether it was new. Adding an existing
	// fingerprint is a no-op.
	Add(ctx context.Context, fp string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

const stripes = 64

// Index guards a Store with per-fingerprint striped locks so unrelated
// fingerprints never serialize on one another.
type Index struct {
	store Store
	locks [stripes]sync.Mutex
}

// New wraps store.
func New(store Store) *Index {
	return &Index{store: store}
}

// Seen reports whether fp has been recorded.
func (i *Index) Seen(ctx context.Context, fp string) (bool, error) {
	ok, err := i.store.Has(ctx, fp)
	if err != nil {
		return false, crawler.NewStorageError("dedup seen", err)
	}
	return ok, nil
}

// Record durably adds fp. Recording the same fingerprint twice is a no-op.
func (i *Index) Record(ctx context.Context, fp string) error {
	mu := i.lockFor(fp)
	mu.Lock()
	defer mu.Unlock()
	if _, err := i.store.Add(ctx, fp); err != nil {
		return crawler.NewStorageError("dedup record", err)
	}
	return nil
}

// Size returns the number of distinct fingerprints recorded.
func (i *Index) Size(ctx context.Context) (int64, error) {
	n, err := i.store.Count(ctx)
	if err != nil {
		return 0, crawler.NewStorageError("dedup size", err)
	}
	return n, nil
}

// Admit runs persist for fp only if fp is unseen, then records fp. The
// fingerprint's lock is held throughout, so two callers with the same
// fingerprint cannot both persist. It reports whether persist ran.
func (i *Index) Admit(ctx context.Context, fp string, persist func(context.Context) error) (bool, error) {
	mu := i.lockFor(fp)
	mu.Lock()
	defer mu.Unlock()

	seen, err := i.store.Has(ctx, fp)
	if err != nil {
		return false, crawler.NewStorageError("dedup seen", err)
	}
	if seen {
		return false, nil
	}
	if err := persist(ctx); err != nil {
		return false, err
	}
	if _, err := i.store.Add(ctx, fp); err != nil {
		return false, crawler.NewStorageError("dedup record", err)
	}
	return true, nil
}

// Backfill records fingerprints already present downstream, returning how
// many were new to the index.
func (i *Index) Backfill(ctx context.Context, fps []string) (int, error) {
	added := 0
	for _, fp := range fps {
		if fp == "" {
			continue
		}
		mu := i.lockFor(fp)
		mu.Lock()
		isNew, err := i.store.Add(ctx, fp)
		mu.Unlock()
		if err != nil {
			return added, crawler.NewStorageError("dedup backfill", err)
		}
		if isNew {
			added++
		}
	}
	return added, nil
}

func (i *Index) lockFor(fp string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fp))
	return &i.locks[h.Sum32()%stripes]
}

// Fingerprint hashes the normalized content of record: sorted key=value
// fields followed by the content, every value whitespace-collapsed. The URL
// and item identity are excluded so mirrors of one document collide.
func Fingerprint(hasher crawler.Hasher, record crawler.Record) (string, error) {
	keys := make([]string, 0, len(record.Fields))
	for k := range record.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		b.WriteString(Normalize(record.Fields[k]))
		b.WriteByte('\n')
	}
	b.WriteString(Normalize(record.Content))

	fp, err := hasher.Hash([]byte(b.String()))
	if err != nil {
		return "", fmt.Errorf("hash record: %w", err)
	}
	return fp, nil
}

// Normalize collapses runs of whitespace to single spaces and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
