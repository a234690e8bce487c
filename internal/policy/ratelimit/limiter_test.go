package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 100 * time.Millisecond, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "test.com"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "test.com"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHostsProceedInParallel(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Second, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "a.com"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "b.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_HostKeysAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour, Burst: 1})
	require.NoError(t, l.Acquire(context.Background(), "Example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, l.Acquire(ctx, "example.COM"))
}

func TestLimiter_BurstAllowsImmediatePermits(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour, Burst: 3})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "burst.test"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_HostOverride(t *testing.T) {
	t.Parallel()

	l := New(Config{
		MinInterval: time.Hour,
		Hosts: map[string]HostConfig{
			"Fast.Example": {MinInterval: 0, Burst: 1},
		},
	})
	require.Equal(t, time.Duration(0), l.Interval("fast.example"))
	require.Equal(t, time.Hour, l.Interval("slow.example"))

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background(), "fast.example"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: time.Hour, Burst: 1})
	require.NoError(t, l.Acquire(context.Background(), "slow.test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, "slow.test")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit wait")
}

func TestLimiter_ConcurrentAcquireIsSerializedPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 20 * time.Millisecond, Burst: 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(ctx, "shared.test"))
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_JitterStaysWithinBound(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 20 * time.Millisecond, Burst: 1, Jitter: 0.5})
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "jitter.test"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "jitter.test"))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	require.Less(t, elapsed, 200*time.Millisecond)
}
