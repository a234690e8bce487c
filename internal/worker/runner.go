// Package worker runs the crawl: it enumerates work items from the last
// checkpoint, fans them out to a bounded pool, and settles each item through
// the dedup index, the record sink, the failure ledger, and the checkpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlkit/internal/adapter"
	"github.com/JakeFAU/crawlkit/internal/checkpoint"
	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/dedup"
	"github.com/JakeFAU/crawlkit/internal/metrics"
	queue "github.com/JakeFAU/crawlkit/internal/queue/memory"
)

// Fetcher resolves a work item to a document; dispatcher.Dispatcher
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, item crawler.WorkItem) (crawler.Document, error)
}

// Config controls pool size and shutdown.
type Config struct {
	Crawl     string
	Workers   int
	QueueSize int
	// GracePeriod is how long in-flight items may keep running after the
	// parent context is cancelled.
	GracePeriod time.Duration
	// MaxItems caps how many items one run enumerates; zero means no cap.
	MaxItems int64
}

// Deps are the collaborators the runner drives.
type Deps struct {
	Adapter    crawler.SiteAdapter
	Fetcher    Fetcher
	Dedup      *dedup.Index
	Checkpoint *checkpoint.Manager
	Sink       crawler.RecordSink
	Failures   crawler.FailureLog
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Logger     *zap.Logger
}

type outcome string

const (
	outcomeStored      outcome = "stored"
	outcomeDuplicate   outcome = "duplicate"
	outcomeFailed      outcome = "failed"
	outcomeInterrupted outcome = "interrupted"
)

// Runner executes crawls. A Runner may be reused for sequential runs but not
// for concurrent ones.
type Runner struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu      sync.Mutex
	current *stats
}

// New validates deps and builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Adapter == nil:
		return nil, errors.New("worker: adapter is required")
	case deps.Fetcher == nil:
		return nil, errors.New("worker: fetcher is required")
	case deps.Dedup == nil, deps.Checkpoint == nil:
		return nil, errors.New("worker: dedup index and checkpoint manager are required")
	case deps.Sink == nil, deps.Failures == nil:
		return nil, errors.New("worker: record sink and failure log are required")
	case deps.Hasher == nil, deps.Clock == nil, deps.IDs == nil:
		return nil, errors.New("worker: hasher, clock and id generator are required")
	}
	if cfg.Crawl == "" {
		cfg.Crawl = "default"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, log: logger.Named("runner")}, nil
}

// Run crawls from the item after the last checkpoint until enumeration ends,
// MaxItems is reached, the parent context is cancelled, or a storage failure
// makes resume consistency impossible. Only the last case returns an error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	last, err := r.deps.Checkpoint.Load(ctx)
	if err != nil {
		return Report{}, err
	}
	start := last + 1
	if err := r.backfill(ctx); err != nil {
		return Report{}, err
	}

	source := func(ctx context.Context, q *queue.Queue) (int64, error) {
		enum, err := r.deps.Adapter.Enumerate(ctx, start)
		if err != nil {
			return 0, fmt.Errorf("enumerate: %w", err)
		}
		defer enum.Close()
		return r.feed(ctx, q, enum, start)
	}
	settle := func(ctx context.Context, item crawler.WorkItem, _ outcome) error {
		return r.deps.Checkpoint.Advance(ctx, item.Index, item.ID)
	}
	return r.run(ctx, "crawl", start, source, settle)
}

// RunItems re-processes items taken from the failure ledger. Items that now
// succeed are removed from the ledger; the checkpoint is not touched.
func (r *Runner) RunItems(ctx context.Context, items []crawler.WorkItem) (Report, error) {
	if err := r.backfill(ctx); err != nil {
		return Report{}, err
	}
	source := func(ctx context.Context, q *queue.Queue) (int64, error) {
		return r.feed(ctx, q, adapter.NewSliceEnumerator(items, 0), -1)
	}
	settle := func(ctx context.Context, item crawler.WorkItem, o outcome) error {
		if o == outcomeFailed {
			return nil
		}
		if err := r.deps.Failures.RemoveFailure(ctx, item.ID); err != nil {
			return crawler.NewStorageError("remove failure", err)
		}
		return nil
	}
	return r.run(ctx, "retry-failed", r.deps.Checkpoint.Position()+1, source, settle)
}

// Progress returns a live snapshot of the current or most recent run.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return Progress{Crawl: r.cfg.Crawl, Checkpoint: r.deps.Checkpoint.Position()}
	}
	return s.progress(r.deps.Checkpoint.Position())
}

// backfill reconciles the dedup index with fingerprints the sink already
// holds, covering a crash between a sink write and its dedup record.
func (r *Runner) backfill(ctx context.Context) error {
	replayer, ok := r.deps.Sink.(crawler.FingerprintReplayer)
	if !ok {
		return nil
	}
	fps, err := replayer.Fingerprints(ctx)
	if err != nil {
		return crawler.NewStorageError("replay sink fingerprints", err)
	}
	added, err := r.deps.Dedup.Backfill(ctx, fps)
	if err != nil {
		return err
	}
	if added > 0 {
		r.log.Info("dedup index backfilled from sink", zap.Int("added", added))
	}
	return nil
}

// feed pushes items from enum onto q. When base is non-negative, items are
// re-indexed from base in enumeration order.
func (r *Runner) feed(ctx context.Context, q *queue.Queue, enum crawler.Enumerator, base int64) (int64, error) {
	var n int64
	for r.cfg.MaxItems <= 0 || n < r.cfg.MaxItems {
		item, err := enum.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return n, fmt.Errorf("enumerate: %w", err)
		}
		if base >= 0 {
			item.Index = base + n
		}
		if item.ID == "" {
			item.ID = strconv.FormatInt(item.Index, 10)
		}
		if err := q.Enqueue(ctx, item); err != nil {
			break
		}
		n++
		r.stats().enumerated.Add(1)
	}
	return n, nil
}

type sourceFunc func(ctx context.Context, q *queue.Queue) (int64, error)

type settleFunc func(ctx context.Context, item crawler.WorkItem, o outcome) error

func (r *Runner) run(ctx context.Context, mode string, start int64, source sourceFunc, settle settleFunc) (Report, error) {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	s := newStats(r.cfg.Crawl, r.deps.Clock.Now())
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	log := r.log.With(zap.String("run_id", runID), zap.String("mode", mode))
	log.Info("run starting", zap.Int64("start_index", start), zap.Int("workers", r.cfg.Workers))

	// In-flight items outlive the parent by GracePeriod so they can settle.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		log.Info("shutdown requested, draining in-flight items", zap.Duration("grace", r.cfg.GracePeriod))
		t := time.AfterFunc(r.cfg.GracePeriod, cancelWork)
		context.AfterFunc(workCtx, func() { t.Stop() })
	})
	defer stopGrace()

	q := queue.NewQueue(r.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer q.Close()
		_, err := source(gctx, q)
		return err
	})
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				item, err := q.Dequeue(gctx)
				if err != nil {
					return nil
				}
				if err := r.process(workCtx, item, settle); err != nil {
					cancelWork()
					return err
				}
			}
		})
	}
	runErr := g.Wait()

	report := r.report(context.WithoutCancel(ctx), s, runID, mode, start, ctx.Err() != nil)
	if runErr != nil {
		report.Error = runErr.Error()
		log.Error("run aborted", zap.Error(runErr))
		return report, runErr
	}
	log.Info("run finished",
		zap.Int64("enumerated", report.Enumerated),
		zap.Int64("stored", report.Stored),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int64("failed", report.Failed),
		zap.Int64("interrupted", report.Interrupted),
		zap.Int64("checkpoint", report.Checkpoint),
		zap.Float64("success_rate", report.SuccessRate),
		zap.String("duration", report.Duration),
	)
	return report, nil
}

// process handles one item end to end. It returns an error only when the run
// must stop.
func (r *Runner) process(workCtx context.Context, item crawler.WorkItem, settle settleFunc) error {
	s := r.stats()
	s.inFlight.Add(1)
	metrics.IncActiveWorkers()
	defer func() {
		s.inFlight.Add(-1)
		metrics.DecActiveWorkers()
	}()

	// Durable writes that have begun run to completion even if the grace
	// period expires.
	durableCtx := context.WithoutCancel(workCtx)

	doc, err := r.deps.Fetcher.Fetch(workCtx, item)
	if err != nil {
		return r.fail(workCtx, durableCtx, item, err, settle)
	}
	if doc.FromCache {
		s.fromCache.Add(1)
	}
	record, err := r.deps.Adapter.Extract(workCtx, doc)
	if err != nil {
		return r.fail(workCtx, durableCtx, item, err, settle)
	}
	record.ItemID = item.ID
	record.ItemIndex = item.Index
	if record.URL == "" {
		record.URL = doc.URL
	}
	fp, err := dedup.Fingerprint(r.deps.Hasher, record)
	if err != nil {
		return r.fail(workCtx, durableCtx, item, &crawler.ExtractionError{ItemID: item.ID, Err: err}, settle)
	}
	record.Fingerprint = fp

	stored, err := r.deps.Dedup.Admit(durableCtx, fp, func(ctx context.Context) error {
		if err := r.deps.Sink.Write(ctx, record); err != nil {
			if crawler.IsStorage(err) {
				return err
			}
			return crawler.NewStorageError("write record", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o := outcomeDuplicate
	if stored {
		o = outcomeStored
	}
	if err := settle(durableCtx, item, o); err != nil {
		return err
	}
	s.count(o)
	r.log.Debug("item settled",
		zap.String("item_id", item.ID),
		zap.Int64("index", item.Index),
		zap.String("outcome", string(o)),
		zap.Bool("from_cache", doc.FromCache))
	return nil
}

// fail records a terminal item failure in the ledger and settles it. Items
// cut short by shutdown are left unsettled so the next run repeats them.
func (r *Runner) fail(workCtx, durableCtx context.Context, item crawler.WorkItem, cause error, settle settleFunc) error {
	s := r.stats()
	if workCtx.Err() != nil {
		s.count(outcomeInterrupted)
		r.log.Debug("item interrupted", zap.String("item_id", item.ID), zap.Error(cause))
		return nil
	}
	if crawler.IsStorage(cause) {
		return cause
	}

	failure := crawler.Failure{
		Item:     item,
		Kind:     failureKind(cause),
		Reason:   cause.Error(),
		Attempts: attempts(cause),
		FailedAt: r.deps.Clock.Now(),
	}
	if err := r.deps.Failures.RecordFailure(durableCtx, failure); err != nil {
		return crawler.NewStorageError("record failure", err)
	}
	if err := settle(durableCtx, item, outcomeFailed); err != nil {
		return err
	}
	s.count(outcomeFailed)
	r.log.Warn("item failed",
		zap.String("item_id", item.ID),
		zap.String("url", item.URL),
		zap.String("kind", failure.Kind),
		zap.Error(cause))
	return nil
}

func (r *Runner) stats() *stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func failureKind(err error) string {
	switch {
	case crawler.IsExtraction(err):
		return "extraction"
	case crawler.IsTerminal(err):
		return "fetch"
	default:
		return "error"
	}
}

func attempts(err error) int {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe.Attempts
	}
	return 1
}
