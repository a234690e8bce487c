package leveldb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// FailureLog is the durable ledger of failed work items, keyed by item ID.
type FailureLog struct {
	db *DB
}

// FailureLog returns the failure ledger.
func (d *DB) FailureLog() *FailureLog {
	return &FailureLog{db: d}
}

// RecordFailure durably stores f, replacing any earlier entry for its item.
func (l *FailureLog) RecordFailure(_ context.Context, f crawler.Failure) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	if err := l.db.db.Put([]byte(prefixFailure+f.Item.ID), b, syncWrite); err != nil {
		return fmt.Errorf("put failure: %w", err)
	}
	return nil
}

// Failures returns every recorded failure ordered by item index.
func (l *FailureLog) Failures(context.Context) ([]crawler.Failure, error) {
	var out []crawler.Failure
	err := l.db.forEach(prefixFailure, func(_ string, value []byte) error {
		var f crawler.Failure
		if err := json.Unmarshal(value, &f); err != nil {
			return fmt.Errorf("decode failure: %w", err)
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Index < out[j].Item.Index })
	return out, nil
}

// RemoveFailure deletes the entry for itemID.
func (l *FailureLog) RemoveFailure(_ context.Context, itemID string) error {
	if err := l.db.db.Delete([]byte(prefixFailure+itemID), syncWrite); err != nil {
		return fmt.Errorf("delete failure: %w", err)
	}
	return nil
}
