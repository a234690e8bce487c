package crawler

import (
	"context"
	"time"
)

// Fetcher performs a single network call. HTTP error statuses are returned in
// the response, not as errors; err is reserved for transport failures.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Enumerator yields work items lazily. Next returns io.EOF once exhausted.
type Enumerator interface {
	Next(ctx context.Context) (WorkItem, error)
	Close() error
}

// SiteAdapter supplies work items and turns fetched documents into records.
type SiteAdapter interface {
	// Enumerate starts the sequence at offset, the zero-based position of the
	// first item to yield.
	Enumerate(ctx context.Context, offset int64) (Enumerator, error)
	Extract(ctx context.Context, doc Document) (Record, error)
}

// RecordSink durably persists extracted records. Write must not return until
// the record survives a process crash.
type RecordSink interface {
	Write(ctx context.Context, record Record) error
	Close() error
}

// FingerprintReplayer is implemented by sinks that can list the fingerprints
// they already hold, so the dedup index can be reconciled on startup.
type FingerprintReplayer interface {
	Fingerprints(ctx context.Context) ([]string, error)
}

// FailureLog is the durable ledger of work items that failed terminally.
type FailureLog interface {
	RecordFailure(ctx context.Context, failure Failure) error
	Failures(ctx context.Context) ([]Failure, error)
	RemoveFailure(ctx context.Context, itemID string) error
}

// Hasher computes digests for fingerprints and cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
