// Package app builds the long-lived services of a crawl from configuration
// and owns their shutdown. It is the only package that knows which backend
// implements which interface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/adapter"
	"github.com/JakeFAU/crawlkit/internal/adapter/feed"
	"github.com/JakeFAU/crawlkit/internal/adapter/selector"
	"github.com/JakeFAU/crawlkit/internal/adapter/urllist"
	"github.com/JakeFAU/crawlkit/internal/api"
	"github.com/JakeFAU/crawlkit/internal/cache"
	"github.com/JakeFAU/crawlkit/internal/checkpoint"
	"github.com/JakeFAU/crawlkit/internal/clock/system"
	"github.com/JakeFAU/crawlkit/internal/config"
	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/dedup"
	"github.com/JakeFAU/crawlkit/internal/dispatcher"
	"github.com/JakeFAU/crawlkit/internal/fetcher"
	collyfetcher "github.com/JakeFAU/crawlkit/internal/fetcher/colly"
	restyfetcher "github.com/JakeFAU/crawlkit/internal/fetcher/resty"
	"github.com/JakeFAU/crawlkit/internal/hash/sha256"
	"github.com/JakeFAU/crawlkit/internal/id/uuid"
	"github.com/JakeFAU/crawlkit/internal/policy/backoff"
	"github.com/JakeFAU/crawlkit/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlkit/internal/proxy"
	pubsubsink "github.com/JakeFAU/crawlkit/internal/publisher/pubsub"
	"github.com/JakeFAU/crawlkit/internal/storage/gcs"
	"github.com/JakeFAU/crawlkit/internal/storage/leveldb"
	"github.com/JakeFAU/crawlkit/internal/storage/local"
	"github.com/JakeFAU/crawlkit/internal/storage/memory"
	"github.com/JakeFAU/crawlkit/internal/storage/postgres"
	"github.com/JakeFAU/crawlkit/internal/storage/sqlite"
	"github.com/JakeFAU/crawlkit/internal/worker"
)

// ReportFile is written to the state directory after every run.
const ReportFile = "report.json"

type closer struct {
	name string
	fn   func() error
}

// App holds the services shared by the CLI commands.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	lock    *local.Lock
	closers []closer

	checkpoint *checkpoint.Manager
	failures   crawler.FailureLog
	dedup      *dedup.Index
	pg         *postgres.DB

	sink    crawler.RecordSink
	rotator *proxy.Rotator
	runner  *worker.Runner
	server  *api.Server
}

// OpenState locks the state directory and opens the checkpoint, dedup index,
// and failure ledger. It is enough for the inspection commands.
func OpenState(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}

	if err := local.EnsureDir(cfg.Crawl.StateDir); err != nil {
		return nil, err
	}
	lock, err := local.AcquireLock(cfg.Crawl.StateDir, cfg.State.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock state dir: %w", err)
	}
	a.lock = lock

	if err := a.openState(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	return a, nil
}

// New opens the state and builds the full crawl pipeline.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a, err := OpenState(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.buildPipeline(ctx); err != nil {
		a.closeQuietly()
		return nil, err
	}
	return a, nil
}

// Checkpoint returns the checkpoint manager.
func (a *App) Checkpoint() *checkpoint.Manager {
	return a.checkpoint
}

// Failures returns the failure ledger.
func (a *App) Failures() crawler.FailureLog {
	return a.failures
}

// Runner returns the crawl runner; nil for state-only apps.
func (a *App) Runner() *worker.Runner {
	return a.runner
}

// Run executes a crawl, or replays the failure ledger when retryFailed is
// set, serving the status API alongside when enabled. The report is written
// to the state directory even when the run fails.
func (a *App) Run(ctx context.Context, retryFailed bool) (worker.Report, error) {
	if a.runner == nil {
		return worker.Report{}, errors.New("app: pipeline not built")
	}

	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	srvDone := make(chan struct{})
	if a.server != nil {
		go func() {
			defer close(srvDone)
			if err := a.server.ListenAndServe(srvCtx, a.cfg.Server.Addr, a.cfg.Server.ShutdownTimeout); err != nil {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
	} else {
		close(srvDone)
	}
	defer func() {
		stopServer()
		<-srvDone
	}()

	var (
		report worker.Report
		err    error
	)
	if retryFailed {
		var failures []crawler.Failure
		failures, err = a.failures.Failures(ctx)
		if err != nil {
			return worker.Report{}, crawler.NewStorageError("list failures", err)
		}
		items := make([]crawler.WorkItem, 0, len(failures))
		for _, f := range failures {
			items = append(items, f.Item)
		}
		a.logger.Info("replaying failure ledger", zap.Int("items", len(items)))
		report, err = a.runner.RunItems(ctx, items)
	} else {
		report, err = a.runner.Run(ctx)
	}

	if report.RunID != "" {
		path, werr := local.WriteJSON(a.cfg.Crawl.StateDir, ReportFile, report)
		if werr != nil {
			a.logger.Warn("write run report failed", zap.Error(werr))
		} else {
			a.logger.Info("run report written", zap.String("path", path))
		}
	}
	return report, err
}

// Close shuts services down in reverse order of creation and releases the
// state lock last.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release state lock: %w", err))
		}
		a.lock = nil
	}
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	_ = a.Close()
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openState(ctx context.Context) error {
	var (
		fps dedup.Store
		cps checkpoint.Store
	)
	switch a.cfg.State.Backend {
	case "leveldb":
		db, err := leveldb.Open(a.cfg.State.Path)
		if err != nil {
			return err
		}
		a.onClose("leveldb state", db.Close)
		store, err := db.FingerprintStore()
		if err != nil {
			return err
		}
		fps, cps, a.failures = store, db.CheckpointStore(), db.FailureLog()
	case "sqlite":
		db, err := sqlite.Open(a.cfg.State.Path)
		if err != nil {
			return err
		}
		a.onClose("sqlite state", db.Close)
		fps, cps, a.failures = db.FingerprintStore(), db.CheckpointStore(), db.FailureLog()
	case "postgres":
		db, err := a.postgres(ctx)
		if err != nil {
			return err
		}
		fps, cps, a.failures = db.FingerprintStore(), db.CheckpointStore(), db.FailureLog()
	case "memory":
		fps, cps, a.failures = memory.NewFingerprintStore(), memory.NewCheckpointStore(), memory.NewFailureLog()
	default:
		return fmt.Errorf("unknown state backend %q", a.cfg.State.Backend)
	}

	if a.cfg.Checkpoint.Backend == "file" {
		store, err := local.NewCheckpointStore(a.cfg.Crawl.StateDir)
		if err != nil {
			return err
		}
		cps = store
	}

	a.dedup = dedup.New(fps)
	a.checkpoint = checkpoint.New(a.cfg.Crawl.Name, cps, a.clock, a.logger.Named("checkpoint"))
	a.logger.Info("state opened",
		zap.String("backend", a.cfg.State.Backend),
		zap.String("checkpoint_backend", a.cfg.Checkpoint.Backend),
		zap.String("state_dir", a.cfg.Crawl.StateDir))
	return nil
}

// postgres opens the shared pool once for the state backend and the sink.
func (a *App) postgres(ctx context.Context) (*postgres.DB, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             a.cfg.Postgres.DSN,
		TablePrefix:     a.cfg.Postgres.TablePrefix,
		MaxConns:        a.cfg.Postgres.MaxConns,
		MinConns:        a.cfg.Postgres.MinConns,
		MaxConnLifetime: a.cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.onClose("postgres", func() error {
		db.Close()
		return nil
	})
	if err := db.Migrate(ctx); err != nil {
		return nil, err
	}
	a.pg = db
	return db, nil
}

func (a *App) buildPipeline(ctx context.Context) error {
	sink, err := a.buildSink(ctx)
	if err != nil {
		return err
	}
	a.sink = sink
	a.onClose("record sink", sink.Close)

	store, err := a.buildCacheStore()
	if err != nil {
		return err
	}
	requestCache := cache.New(store, a.clock, a.logger.Named("cache"))

	if len(a.cfg.Proxy.Addresses) > 0 {
		a.rotator, err = proxy.NewRotator(a.cfg.Proxy.Addresses, proxy.Config{
			DegradeAfter: a.cfg.Proxy.DegradeAfter,
			BanAfter:     a.cfg.Proxy.BanAfter,
			Cooldown:     a.cfg.Proxy.Cooldown,
		}, a.clock)
		if err != nil {
			return fmt.Errorf("build proxy pool: %w", err)
		}
	}

	dispatch, err := dispatcher.New(dispatcher.Config{
		Freshness: a.cfg.Cache.Freshness,
		Headers:   a.headers(),
	}, dispatcher.Deps{
		Fetcher: a.buildFetcher(),
		Cache:   requestCache,
		Limiter: ratelimit.New(a.limiterConfig()),
		Rotator: a.rotator,
		Backoff: backoff.New(backoff.Config{
			MaxRetries: a.cfg.Retry.MaxRetries,
			BaseDelay:  a.cfg.Retry.BaseDelay,
			MaxDelay:   a.cfg.Retry.MaxDelay,
		}),
		Clock:  a.clock,
		Logger: a.logger.Named("dispatcher"),
	})
	if err != nil {
		return err
	}

	site, err := a.buildAdapter()
	if err != nil {
		return err
	}

	a.runner, err = worker.New(worker.Config{
		Crawl:       a.cfg.Crawl.Name,
		Workers:     a.cfg.Crawl.Workers,
		QueueSize:   a.cfg.Crawl.QueueSize,
		GracePeriod: a.cfg.Crawl.GracePeriod,
		MaxItems:    a.cfg.Crawl.MaxItems,
	}, worker.Deps{
		Adapter:    site,
		Fetcher:    dispatch,
		Dedup:      a.dedup,
		Checkpoint: a.checkpoint,
		Sink:       a.sink,
		Failures:   a.failures,
		Hasher:     sha256.New(),
		Clock:      a.clock,
		IDs:        uuid.New(),
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		opts := api.Options{
			Progress: a.runner,
			Failures: a.failures,
			APIKey:   a.cfg.Server.APIKey,
			Logger:   a.logger,
		}
		if a.rotator != nil {
			opts.Proxies = a.rotator
		}
		a.server, err = api.NewServer(opts)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildSink(ctx context.Context) (crawler.RecordSink, error) {
	switch a.cfg.Sink.Kind {
	case "jsonl":
		return local.NewJSONLSink(a.cfg.Sink.Path)
	case "postgres":
		db, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return db.RecordSink(), nil
	case "gcs":
		return gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Sink.GCS.Bucket, Prefix: a.cfg.Sink.GCS.Prefix})
	case "pubsub":
		return pubsubsink.Open(ctx, pubsubsink.Config{
			ProjectID: a.cfg.Sink.PubSub.ProjectID,
			TopicID:   a.cfg.Sink.PubSub.TopicID,
		})
	case "memory":
		return memory.NewRecordSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", a.cfg.Sink.Kind)
	}
}

func (a *App) buildCacheStore() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "memory":
		return memory.NewCacheStore(a.cfg.Cache.MaxEntries)
	case "leveldb":
		return a.leveldbCache()
	case "tiered":
		front, err := memory.NewCacheStore(a.cfg.Cache.MemoryEntries)
		if err != nil {
			return nil, err
		}
		back, err := a.leveldbCache()
		if err != nil {
			return nil, err
		}
		return cache.NewTiered(front, back, a.logger.Named("cache")), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

func (a *App) leveldbCache() (*leveldb.CacheStore, error) {
	db, err := leveldb.Open(a.cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	a.onClose("leveldb cache", db.Close)
	return db.CacheStore(a.cfg.Cache.MaxEntries)
}

func (a *App) buildFetcher() crawler.Fetcher {
	switch a.cfg.Fetcher.Engine {
	case "colly":
		return collyfetcher.New(collyfetcher.Config{
			UserAgents:    a.cfg.Fetcher.UserAgents,
			RespectRobots: a.cfg.Fetcher.RespectRobots,
			Timeout:       a.cfg.Fetcher.Timeout,
			MaxBodySize:   a.cfg.Fetcher.MaxBodyBytes,
		}, a.logger.Named("colly"))
	default:
		return restyfetcher.New(restyfetcher.Config{
			Timeout:      a.cfg.Fetcher.Timeout,
			MaxRedirects: a.cfg.Fetcher.MaxRedirects,
			UserAgents:   a.cfg.Fetcher.UserAgents,
		})
	}
}

func (a *App) buildAdapter() (crawler.SiteAdapter, error) {
	var (
		src adapter.Source
		err error
	)
	switch a.cfg.Adapter.Kind {
	case "urllist":
		src, err = urllist.New(a.cfg.Adapter.Source)
	case "feed":
		ua := fetcher.DefaultUserAgent
		if len(a.cfg.Fetcher.UserAgents) > 0 {
			ua = a.cfg.Fetcher.UserAgents[0]
		}
		src, err = feed.New(feed.Config{
			Location:  a.cfg.Adapter.Source,
			UserAgent: ua,
			Timeout:   a.cfg.Fetcher.Timeout,
		})
	default:
		err = fmt.Errorf("unknown adapter kind %q", a.cfg.Adapter.Kind)
	}
	if err != nil {
		return nil, err
	}
	ex, err := selector.New(selector.Config{
		Content: a.cfg.Adapter.Selector.Content,
		Title:   a.cfg.Adapter.Selector.Title,
		Fields:  a.cfg.Adapter.Selector.Fields,
	}, a.clock)
	if err != nil {
		return nil, err
	}
	return adapter.New(src, ex)
}

func (a *App) headers() http.Header {
	h := make(http.Header, len(a.cfg.Fetcher.Headers))
	for k, v := range a.cfg.Fetcher.Headers {
		h.Set(k, v)
	}
	return h
}

func (a *App) limiterConfig() ratelimit.Config {
	hosts := make(map[string]ratelimit.HostConfig, len(a.cfg.RateLimit.Hosts))
	for _, hl := range a.cfg.RateLimit.Hosts {
		hosts[strings.ToLower(strings.TrimSpace(hl.Host))] = ratelimit.HostConfig{MinInterval: hl.MinInterval, Burst: hl.Burst}
	}
	return ratelimit.Config{
		MinInterval: a.cfg.RateLimit.MinInterval,
		Burst:       a.cfg.RateLimit.Burst,
		Jitter:      a.cfg.RateLimit.Jitter,
		Hosts:       hosts,
	}
}
