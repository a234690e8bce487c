package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mapStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	getErr  error
	putErr  error
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string]Entry)}
}

func (s *mapStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Entry{}, false, s.getErr
	}
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *mapStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[e.Key] = e
	return nil
}

func (s *mapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestCache() (*Cache, *mapStore, *fakeClock) {
	store := newMapStore()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(store, clock, zap.NewNop()), store, clock
}

func TestCache_FreshnessWindow(t *testing.T) {
	t.Parallel()

	c, _, clock := newTestCache()
	ctx := context.Background()
	c.Put(ctx, Entry{Key: "k", Body: []byte("v"), FetchedAt: clock.Now(), Freshness: time.Minute})

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, []byte("v"), got.Body)

	clock.Advance(time.Minute)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok, "entry at the window edge is stale")
	require.Equal(t, 1, c.Len(), "stale entries are retained")
}

func TestCache_StoreErrorIsMiss(t *testing.T) {
	t.Parallel()

	c, store, clock := newTestCache()
	c.Put(context.Background(), Entry{Key: "k", FetchedAt: clock.Now(), Freshness: time.Hour})
	store.getErr = errors.New("disk gone")

	_, ok := c.Get(context.Background(), "k")
	require.False(t, ok)
}

func TestCache_DoHitSkipsFetch(t *testing.T) {
	t.Parallel()

	c, _, clock := newTestCache()
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{Body: []byte("body"), FetchedAt: clock.Now(), Freshness: time.Hour}, nil
	}

	first, src, err := c.Do(ctx, "k", fetch)
	require.NoError(t, err)
	require.Equal(t, FromFetch, src)
	require.Equal(t, "k", first.Key)

	second, src, err := c.Do(ctx, "k", fetch)
	require.NoError(t, err)
	require.Equal(t, FromCache, src)
	require.Equal(t, first.Body, second.Body)
	require.EqualValues(t, 1, calls.Load())
}

func TestCache_DoCoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	c, _, clock := newTestCache()
	ctx := context.Background()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{Body: []byte("shared"), FetchedAt: clock.Now(), Freshness: time.Hour}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]Entry, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.Do(ctx, "same", fetch)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, []byte("shared"), results[i].Body)
	}
}

func TestCache_DoSharesFailureAndDoesNotCache(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache()
	ctx := context.Background()
	boom := errors.New("boom")
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{}, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Do(ctx, "bad", fetch)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
	require.Zero(t, c.Len())
}

func TestCache_DoWaiterSurvivesLeaderCancellation(t *testing.T) {
	t.Parallel()

	c, _, clock := newTestCache()
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	started := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Entry, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return Entry{}, ctx.Err()
		}
		return Entry{Body: []byte("second"), FetchedAt: clock.Now(), Freshness: time.Hour}, nil
	}

	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.Do(leaderCtx, "k", fetch)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		entry Entry
		err   error
	}
	waiterDone := make(chan outcome, 1)
	go func() {
		e, _, err := c.Do(context.Background(), "k", fetch)
		waiterDone <- outcome{entry: e, err: err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	require.ErrorIs(t, <-leaderErr, context.Canceled)
	select {
	case got := <-waiterDone:
		require.NoError(t, got.err)
		require.Equal(t, []byte("second"), got.entry.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never completed")
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestCache_DoFetchDeadlineIsNotLeaderCancellation(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache()
	timeout := fmt.Errorf("client timeout: %w", context.DeadlineExceeded)
	var calls atomic.Int32
	fetch := func(context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{}, timeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, src, err := c.Do(ctx, "slow", fetch)

	require.ErrorIs(t, err, timeout)
	require.Equal(t, FromFetch, src)
	require.NoError(t, ctx.Err())
	require.EqualValues(t, 1, calls.Load())
}

func TestTiered_PromotesBackHits(t *testing.T) {
	t.Parallel()

	front, back := newMapStore(), newMapStore()
	tiered := NewTiered(front, back, nil)
	ctx := context.Background()
	require.NoError(t, back.Put(ctx, Entry{Key: "k", Body: []byte("disk")}))

	got, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("disk"), got.Body)
	require.Equal(t, 1, front.Len())

	require.NoError(t, tiered.Put(ctx, Entry{Key: "j"}))
	require.Equal(t, 2, back.Len())
	require.Equal(t, 2, tiered.Len())
}

func TestTiered_FrontFailuresAreLoggedAndFallThrough(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	front, back := newMapStore(), newMapStore()
	front.getErr = errors.New("front down")
	front.putErr = errors.New("front full")
	tiered := NewTiered(front, back, zap.New(core))
	ctx := context.Background()
	require.NoError(t, back.Put(ctx, Entry{Key: "k", Body: []byte("disk")}))

	got, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("disk"), got.Body)

	require.Equal(t, 1, logs.FilterMessage("front cache get failed").Len())
	require.Equal(t, 1, logs.FilterMessage("front cache promote failed").Len())
}

func TestEntry_Fresh(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	require.False(t, Entry{FetchedAt: now}.Fresh(now), "zero freshness never fresh")
	require.True(t, Entry{FetchedAt: now, Freshness: time.Second}.Fresh(now.Add(999*time.Millisecond)))
	require.False(t, Entry{FetchedAt: now, Freshness: time.Second}.Fresh(now.Add(time.Second)))
}
