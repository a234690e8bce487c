// Package adapter composes work-item sources and document extractors into a
// crawler.SiteAdapter.
package adapter

import (
	"context"
	"errors"
	"io"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Source yields work items starting at a zero-based offset.
type Source interface {
	Enumerate(ctx context.Context, offset int64) (crawler.Enumerator, error)
}

// Extractor turns a fetched document into a record.
type Extractor interface {
	Extract(ctx context.Context, doc crawler.Document) (crawler.Record, error)
}

type composite struct {
	Source
	Extractor
}

// New pairs src and ex into a SiteAdapter.
func New(src Source, ex Extractor) (crawler.SiteAdapter, error) {
	if src == nil || ex == nil {
		return nil, errors.New("adapter: source and extractor are required")
	}
	return composite{Source: src, Extractor: ex}, nil
}

// SliceEnumerator yields a fixed list of items.
type SliceEnumerator struct {
	items []crawler.WorkItem
	pos   int
}

// NewSliceEnumerator returns an enumerator over items[offset:].
func NewSliceEnumerator(items []crawler.WorkItem, offset int64) *SliceEnumerator {
	if offset < 0 {
		offset = 0
	}
	if offset > int64(len(items)) {
		offset = int64(len(items))
	}
	return &SliceEnumerator{items: items[offset:]}
}

// Next returns the next item or io.EOF.
func (e *SliceEnumerator) Next(ctx context.Context) (crawler.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return crawler.WorkItem{}, err
	}
	if e.pos >= len(e.items) {
		return crawler.WorkItem{}, io.EOF
	}
	item := e.items[e.pos]
	e.pos++
	return item, nil
}

// Close is a no-op.
func (e *SliceEnumerator) Close() error {
	return nil
}
