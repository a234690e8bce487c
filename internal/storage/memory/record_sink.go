package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// RecordSink collects records in memory.
type RecordSink struct {
	mu      sync.RWMutex
	records []crawler.Record
	err     error
}

// NewRecordSink constructs an empty RecordSink.
func NewRecordSink() *RecordSink {
	return &RecordSink{}
}

// FailWith makes subsequent writes return err, or succeed again when nil.
func (s *RecordSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Write appends record.
func (s *RecordSink) Write(_ context.Context, record crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of the collected records.
func (s *RecordSink) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Fingerprints returns the fingerprints of collected records.
func (s *RecordSink) Fingerprints(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Fingerprint)
	}
	return out, nil
}

// Close is a no-op.
func (s *RecordSink) Close() error {
	return nil
}
