// Package ratelimit enforces a minimum spacing between requests to the same
// host using one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// HostConfig overrides the default spacing for a single host.
type HostConfig struct {
	MinInterval time.Duration
	Burst       int
}

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the default spacing between permits for one host. Zero
	// disables throttling.
	MinInterval time.Duration
	Burst       int
	// Jitter adds a random extra wait of up to Jitter*interval per permit.
	Jitter float64
	Hosts  map[string]HostConfig
}

// Limiter manages per-host token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*hostLimiter
	cfg      Config
	hosts    map[string]HostConfig
}

type hostLimiter struct {
	bucket   *rate.Limiter
	interval time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	hosts := make(map[string]HostConfig, len(cfg.Hosts))
	for host, hc := range cfg.Hosts {
		hosts[strings.ToLower(host)] = hc
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Limiter{
		limiters: make(map[string]*hostLimiter),
		cfg:      cfg,
		hosts:    hosts,
	}
}

// Acquire blocks until hostKey may issue its next request or ctx ends.
func (l *Limiter) Acquire(ctx context.Context, hostKey string) error {
	host := strings.ToLower(hostKey)
	if host == "" {
		host = "unknown"
	}
	hl := l.limiterFor(host)

	start := time.Now()
	if err := hl.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.cfg.Jitter > 0 && hl.interval > 0 {
		extra := time.Duration(rand.Float64() * l.cfg.Jitter * float64(hl.interval))
		if err := sleep(ctx, extra); err != nil {
			return fmt.Errorf("rate limit jitter: %w", err)
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Interval reports the configured spacing for host.
func (l *Limiter) Interval(hostKey string) time.Duration {
	return l.limiterFor(strings.ToLower(hostKey)).interval
}

func (l *Limiter) limiterFor(host string) *hostLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hl, ok := l.limiters[host]; ok {
		return hl
	}
	interval, burst := l.cfg.MinInterval, l.cfg.Burst
	if hc, ok := l.hosts[host]; ok {
		interval = hc.MinInterval
		if hc.Burst > 0 {
			burst = hc.Burst
		}
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	hl := &hostLimiter{bucket: rate.NewLimiter(limit, burst), interval: interval}
	l.limiters[host] = hl
	return hl
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
