// Package backoff computes retry delays for failed fetches: exponential growth
// from a base, capped at a maximum, with full random jitter.
package backoff

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Config holds the retry budget and delay bounds.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Decision is the outcome of a failure: retry after a delay, or give up.
type Decision struct {
	RetryAfter time.Duration
	Exhausted  bool
}

// RetryState tracks one work item across failed attempts.
type RetryState struct {
	Attempt      int
	NextEligible time.Time
	LastErr      error
}

// Controller implements jittered exponential backoff.
type Controller struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func(limit time.Duration) time.Duration
}

// New builds a Controller, filling unset fields with defaults.
func New(cfg Config) *Controller {
	c := &Controller{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		jitter:     randomJitter,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 250 * time.Millisecond
	}
	if c.maxDelay <= 0 {
		c.maxDelay = 30 * time.Second
	}
	if c.maxDelay < c.baseDelay {
		c.maxDelay = c.baseDelay
	}
	return c
}

// Budget returns the configured number of retries.
func (c *Controller) Budget() int {
	return c.maxRetries
}

// Ceiling returns min(base*2^attempt, maxDelay).
func (c *Controller) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := c.baseDelay
	for i := 0; i < attempt; i++ {
		if delay >= c.maxDelay/2 {
			return c.maxDelay
		}
		delay *= 2
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// Next decides what to do after the zero-based attempt failed.
func (c *Controller) Next(attempt int) Decision {
	if attempt >= c.maxRetries {
		return Decision{Exhausted: true}
	}
	return Decision{RetryAfter: c.jitter(c.Ceiling(attempt))}
}

// OnFailure records err against state and returns the decision. On a retry
// the state's attempt counter and next eligible time advance.
func (c *Controller) OnFailure(ctx context.Context, state *RetryState, err error, now time.Time) Decision {
	state.LastErr = err
	if !Retryable(ctx, err) {
		return Decision{Exhausted: true}
	}
	decision := c.Next(state.Attempt)
	if decision.Exhausted {
		return decision
	}
	state.Attempt++
	state.NextEligible = now.Add(decision.RetryAfter)
	return decision
}

// Retryable reports whether err may be retried at all. Nothing is retried
// once the caller's ctx has ended. A deadline error from a per-request client
// timeout, with ctx still live, is an ordinary transport failure.
func Retryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() == nil
}

// Pause waits for d or until ctx ends.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
