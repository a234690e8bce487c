package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/crawlkit/internal/metrics"
)

// Progress is a live view of a run, served by the status API.
type Progress struct {
	Crawl       string    `json:"crawl"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Enumerated  int64     `json:"enumerated"`
	Stored      int64     `json:"stored"`
	Duplicates  int64     `json:"duplicates"`
	Failed      int64     `json:"failed"`
	Interrupted int64     `json:"interrupted"`
	FromCache   int64     `json:"from_cache"`
	InFlight    int64     `json:"in_flight"`
	Checkpoint  int64     `json:"checkpoint"`
}

// Report summarizes a finished run. It is written to report.json in the state
// directory.
type Report struct {
	RunID       string    `json:"run_id"`
	Crawl       string    `json:"crawl"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Duration    string    `json:"duration"`
	ResumedFrom int64     `json:"resumed_from"`
	Checkpoint  int64     `json:"checkpoint"`
	Enumerated  int64     `json:"enumerated"`
	Stored      int64     `json:"stored"`
	Duplicates  int64     `json:"duplicates"`
	Failed      int64     `json:"failed"`
	Interrupted int64     `json:"interrupted"`
	FromCache   int64     `json:"from_cache"`
	SuccessRate float64   `json:"success_rate"`
	DedupSize   int64     `json:"dedup_size"`
	Canceled    bool      `json:"canceled"`
	Error       string    `json:"error,omitempty"`
}

type stats struct {
	crawl     string
	startedAt time.Time

	enumerated  atomic.Int64
	stored      atomic.Int64
	duplicates  atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64
	fromCache   atomic.Int64
	inFlight    atomic.Int64
}

func newStats(crawl string, now time.Time) *stats {
	return &stats{crawl: crawl, startedAt: now}
}

func (s *stats) count(o outcome) {
	switch o {
	case outcomeStored:
		s.stored.Add(1)
	case outcomeDuplicate:
		s.duplicates.Add(1)
	case outcomeFailed:
		s.failed.Add(1)
	case outcomeInterrupted:
		s.interrupted.Add(1)
	}
	metrics.ObserveItem(string(o))
}

func (s *stats) progress(checkpoint int64) Progress {
	return Progress{
		Crawl:       s.crawl,
		StartedAt:   s.startedAt,
		Enumerated:  s.enumerated.Load(),
		Stored:      s.stored.Load(),
		Duplicates:  s.duplicates.Load(),
		Failed:      s.failed.Load(),
		Interrupted: s.interrupted.Load(),
		FromCache:   s.fromCache.Load(),
		InFlight:    s.inFlight.Load(),
		Checkpoint:  checkpoint,
	}
}

func (r *Runner) report(ctx context.Context, s *stats, runID, mode string, start int64, canceled bool) Report {
	finished := r.deps.Clock.Now()
	p := s.progress(r.deps.Checkpoint.Position())
	rep := Report{
		RunID:       runID,
		Crawl:       s.crawl,
		Mode:        mode,
		StartedAt:   s.startedAt,
		FinishedAt:  finished,
		Duration:    finished.Sub(s.startedAt).String(),
		ResumedFrom: start,
		Checkpoint:  p.Checkpoint,
		Enumerated:  p.Enumerated,
		Stored:      p.Stored,
		Duplicates:  p.Duplicates,
		Failed:      p.Failed,
		Interrupted: p.Interrupted,
		FromCache:   p.FromCache,
		Canceled:    canceled,
	}
	if settled := p.Stored + p.Duplicates + p.Failed; settled > 0 {
		rep.SuccessRate = float64(p.Stored+p.Duplicates) / float64(settled)
	}
	// Size is best effort; a lookup failure leaves it at zero.
	if size, err := r.deps.Dedup.Size(ctx); err == nil {
		rep.DedupSize = size
	}
	return rep
}
