package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// FailureLog keeps failed work items in memory, keyed by item ID.
type FailureLog struct {
	mu       sync.RWMutex
	failures map[string]crawler.Failure
}

// NewFailureLog constructs an empty FailureLog.
func NewFailureLog() *FailureLog {
	return &FailureLog{failures: make(map[string]crawler.Failure)}
}

// RecordFailure stores or replaces the failure for its item.
func (l *FailureLog) RecordFailure(_ context.Context, f crawler.Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[f.Item.ID] = f
	return nil
}

// Failures returns all failures ordered by item index.
func (l *FailureLog) Failures(context.Context) ([]crawler.Failure, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]crawler.Failure, 0, len(l.failures))
	for _, f := range l.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Index < out[j].Item.Index })
	return out, nil
}

// RemoveFailure deletes the failure for itemID, if any.
func (l *FailureLog) RemoveFailure(_ context.Context, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, itemID)
	return nil
}
