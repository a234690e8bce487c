package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/hash/sha256"
)

type setStore struct {
	mu     sync.Mutex
	set    map[string]struct{}
	addErr error
}

func newSetStore() *setStore {
	return &setStore{set: make(map[string]struct{})}
}

func (s *setStore) Has(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[fp]
	return ok, nil
}

func (s *setStore) Add(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return false, s.addErr
	}
	if _, ok := s.set[fp]; ok {
		return false, nil
	}
	s.set[fp] = struct{}{}
	return true, nil
}

func (s *setStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.set)), nil
}

func TestIndex_RecordIsIdempotent(t *testing.T) {
	t.Parallel()

	idx := New(newSetStore())
	ctx := context.Background()

	require.NoError(t, idx.Record(ctx, "fp-1"))
	require.NoError(t, idx.Record(ctx, "fp-1"))

	seen, err := idx.Seen(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, seen)

	size, err := idx.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, size)
}

func TestIndex_AdmitPersistsOnce(t *testing.T) {
	t.Parallel()

	idx := New(newSetStore())
	ctx := context.Background()
	var persisted atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := idx.Admit(ctx, "same", func(context.Context) error {
				persisted.Add(1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, persisted.Load())
}

func TestIndex_AdmitPersistFailureLeavesUnseen(t *testing.T) {
	t.Parallel()

	idx := New(newSetStore())
	ctx := context.Background()
	boom := errors.New("sink down")

	admitted, err := idx.Admit(ctx, "fp", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, admitted)

	seen, err := idx.Seen(ctx, "fp")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestIndex_StoreFailureIsStorageError(t *testing.T) {
	t.Parallel()

	store := newSetStore()
	store.addErr = errors.New("disk full")
	idx := New(store)

	err := idx.Record(context.Background(), "fp")
	require.True(t, crawler.IsStorage(err))

	_, err = idx.Admit(context.Background(), "fp", func(context.Context) error { return nil })
	require.True(t, crawler.IsStorage(err))
}

func TestIndex_Backfill(t *testing.T) {
	t.Parallel()

	idx := New(newSetStore())
	ctx := context.Background()
	require.NoError(t, idx.Record(ctx, "a"))

	added, err := idx.Backfill(ctx, []string{"a", "b", "", "c", "b"})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	size, err := idx.Size(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, size)
}

func TestFingerprint_IgnoresWhitespaceAndURL(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	a, err := Fingerprint(h, crawler.Record{
		URL:     "https://a.example/story",
		Fields:  map[string]string{"title": "Big  News", "author": "Staff"},
		Content: "  Line one.\n\n Line\ttwo. ",
	})
	require.NoError(t, err)
	b, err := Fingerprint(h, crawler.Record{
		URL:     "https://mirror.example/story?ref=rss",
		Fields:  map[string]string{"author": "Staff", "title": "Big News"},
		Content: "Line one. Line two.",
	})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := Fingerprint(h, crawler.Record{Content: "Line one. Line three."})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestIndex_UnrelatedKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	idx := New(newSetStore())
	ctx := context.Background()

	// Find a fingerprint on a different stripe from "held".
	other := ""
	for i := 0; i < 1000; i++ {
		candidate := fmt.Sprintf("fp-%d", i)
		if idx.lockFor(candidate) != idx.lockFor("held") {
			other = candidate
			break
		}
	}
	require.NotEmpty(t, other)

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_, _ = idx.Admit(ctx, "held", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() { done <- idx.Record(ctx, other) }()
	require.NoError(t, <-done)
	close(release)
}
