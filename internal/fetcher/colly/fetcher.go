// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgents    []string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Fetcher implements crawler.Fetcher using the Colly collector. Each proxy
// gets its own base collector so transports and robots.txt caches are never
// shared across egress addresses.
type Fetcher struct {
	cfg    Config
	agents *fetcher.UserAgents
	logger *zap.Logger

	mu         sync.Mutex
	collectors map[string]*colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:        cfg,
		agents:     fetcher.NewUserAgents(cfg.UserAgents),
		logger:     logger,
		collectors: make(map[string]*colly.Collector),
	}
}

// Fetch executes a single request through a collector bound to the
// request's proxy. Robots disallow surfaces as crawler.ErrDisallowed.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	base, err := f.baseCollector(request.Proxy)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	collector := base.Clone()
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) baseCollector(proxy string) (*colly.Collector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collectors[proxy]; ok {
		return c, nil
	}
	transport := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodySize > 0 {
		c.MaxBodySize = f.cfg.MaxBodySize
	}
	c.WithTransport(&robotsAwareTransport{base: transport, logger: f.logger})
	c.SetRequestTimeout(f.cfg.Timeout)
	f.collectors[proxy] = c
	return c, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
		if request.Headers.Get("User-Agent") == "" {
			r.Headers.Set("User-Agent", f.agents.Next())
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request crawler.FetchRequest,
	fetchErr *error,
) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, request.URL, nil, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("colly visit %s: %w", request.URL, crawler.ErrDisallowed)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
