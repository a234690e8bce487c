// Package dispatcher turns work items into fetched documents. It consults the
// request cache first and only on a miss goes through the rate limiter, the
// proxy rotator, the network, and the backoff controller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/cache"
	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/metrics"
	"github.com/JakeFAU/crawlkit/internal/policy/backoff"
	"github.com/JakeFAU/crawlkit/internal/policy/ratelimit"
	"github.com/JakeFAU/crawlkit/internal/proxy"
)

const tracerName = "github.com/JakeFAU/crawlkit/internal/dispatcher"

// Config controls dispatcher behavior.
type Config struct {
	// Freshness is how long a fetched response is served from cache.
	Freshness time.Duration
	// Headers are sent with every request.
	Headers http.Header
}

// Deps are the collaborators a Dispatcher coordinates. Rotator may be nil for
// direct egress.
type Deps struct {
	Fetcher crawler.Fetcher
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	Rotator *proxy.Rotator
	Backoff *backoff.Controller
	Clock   crawler.Clock
	Logger  *zap.Logger
}

// Dispatcher coordinates one fetch per work item.
type Dispatcher struct {
	cfg     Config
	fetcher crawler.Fetcher
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	rotator *proxy.Rotator
	backoff *backoff.Controller
	clock   crawler.Clock
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New constructs a Dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("dispatcher: fetcher is required")
	}
	if deps.Cache == nil || deps.Limiter == nil || deps.Backoff == nil || deps.Clock == nil {
		return nil, errors.New("dispatcher: cache, limiter, backoff and clock are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		cache:   deps.Cache,
		limiter: deps.Limiter,
		rotator: deps.Rotator,
		backoff: deps.Backoff,
		clock:   deps.Clock,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Fetch returns the document for item. A fresh cache hit never touches the
// limiter, a proxy, or the network. Concurrent misses for the same request
// share a single network fetch and see the same outcome.
func (d *Dispatcher) Fetch(ctx context.Context, item crawler.WorkItem) (crawler.Document, error) {
	key, err := crawler.RequestKey(item)
	if err != nil {
		return crawler.Document{}, crawler.NewTerminalError(item.URL, 0, err)
	}
	requestURL, err := crawler.RequestURL(item)
	if err != nil {
		return crawler.Document{}, crawler.NewTerminalError(item.URL, 0, err)
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.Fetch", trace.WithAttributes(
		attribute.String("crawl.item_id", item.ID),
		attribute.Int64("crawl.item_index", item.Index),
		attribute.String("http.url", requestURL),
	))
	defer span.End()

	entry, source, err := d.cache.Do(ctx, key, func(ctx context.Context) (cache.Entry, error) {
		return d.fetchWithRetry(ctx, item.HTTPMethod(), requestURL)
	})
	span.SetAttributes(attribute.Int("crawl.cache_source", int(source)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return crawler.Document{}, err
	}

	return crawler.Document{
		Item:       item,
		Key:        key,
		URL:        requestURL,
		FinalURL:   entry.FinalURL,
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers.Clone(),
		Body:       entry.Body,
		FetchedAt:  entry.FetchedAt,
		FromCache:  source == cache.FromCache,
	}, nil
}

func (d *Dispatcher) fetchWithRetry(ctx context.Context, method, rawURL string) (cache.Entry, error) {
	host := crawler.HostKey(rawURL)
	state := &backoff.RetryState{}
	for {
		entry, err := d.attempt(ctx, host, method, rawURL)
		if err == nil {
			return entry, nil
		}
		if !crawler.IsTransient(err) {
			return cache.Entry{}, withAttempts(err, state.Attempt+1)
		}

		decision := d.backoff.OnFailure(ctx, state, err, d.clock.Now())
		if decision.Exhausted {
			d.logger.Warn("retry budget exhausted",
				zap.String("url", rawURL),
				zap.Int("attempts", state.Attempt+1),
				zap.Error(err))
			return cache.Entry{}, &crawler.FetchError{
				Kind:       crawler.FetchTerminal,
				URL:        rawURL,
				StatusCode: statusOf(err),
				Attempts:   state.Attempt + 1,
				Err:        fmt.Errorf("%w: %w", crawler.ErrRetryBudgetExhausted, err),
			}
		}
		metrics.ObserveRetry()
		d.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", state.Attempt),
			zap.Duration("delay", decision.RetryAfter),
			zap.Error(err))
		if err := backoff.Pause(ctx, decision.RetryAfter); err != nil {
			return cache.Entry{}, fmt.Errorf("backoff pause: %w", err)
		}
	}
}

// attempt performs exactly one network call and classifies its outcome.
func (d *Dispatcher) attempt(ctx context.Context, host, method, rawURL string) (cache.Entry, error) {
	var egress string
	if d.rotator != nil {
		rec, err := d.rotator.Select()
		if err != nil {
			return cache.Entry{}, crawler.NewTerminalError(rawURL, 0, err)
		}
		egress = rec.Address
	}

	if err := d.limiter.Acquire(ctx, host); err != nil {
		return cache.Entry{}, err
	}

	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     rawURL,
		Method:  method,
		Headers: d.cfg.Headers.Clone(),
		Proxy:   egress,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cache.Entry{}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		if errors.Is(err, crawler.ErrDisallowed) {
			metrics.ObserveFetch(host, "disallowed", 0, 0)
			return cache.Entry{}, crawler.NewTerminalError(rawURL, 0, err)
		}
		d.reportProxy(egress, false)
		metrics.ObserveFetch(host, "transport_error", 0, 0)
		return cache.Entry{}, crawler.NewTransientError(rawURL, 0, err)
	}

	d.reportProxy(egress, !proxyFailureStatus(resp.StatusCode))
	metrics.ObserveFetch(host, outcomeLabel(resp.StatusCode), len(resp.Body), resp.Duration)

	switch classify(resp.StatusCode) {
	case crawler.FetchTransient:
		return cache.Entry{}, crawler.NewTransientError(rawURL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	case crawler.FetchTerminal:
		return cache.Entry{}, crawler.NewTerminalError(rawURL, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = rawURL
	}
	return cache.Entry{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		FetchedAt:  d.clock.Now(),
		Freshness:  d.cfg.Freshness,
	}, nil
}

func (d *Dispatcher) reportProxy(address string, success bool) {
	if d.rotator == nil || address == "" {
		return
	}
	d.rotator.ReportOutcome(address, success)
}

// classify maps a status code to a fetch error kind; "" means success.
func classify(status int) crawler.FetchErrorKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return crawler.FetchTransient
	default:
		return crawler.FetchTerminal
	}
}

// proxyFailureStatus reports statuses that indict the egress proxy rather
// than the target.
func proxyFailureStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusProxyAuthRequired, http.StatusTooManyRequests:
		return true
	}
	return false
}

func outcomeLabel(status int) string {
	switch classify(status) {
	case crawler.FetchTransient:
		return "transient"
	case crawler.FetchTerminal:
		return "terminal"
	}
	return "success"
}

func statusOf(err error) int {
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

func withAttempts(err error, attempts int) error {
	var fe *crawler.FetchError
	if errors.As(err, &fe) && fe.Attempts == 0 {
		fe.Attempts = attempts
	}
	return err
}
