// Package restyfetcher implements crawler.Fetcher on top of go-resty. One
// client is kept per egress proxy so connection pools are never shared
// between proxies.
package restyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/fetcher"
)

const tracerName = "github.com/JakeFAU/crawlkit/internal/fetcher/resty"

// Config controls client behavior.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgents   []string
}

// Fetcher implements crawler.Fetcher using resty.
type Fetcher struct {
	cfg    Config
	agents *fetcher.UserAgents
	tracer trace.Tracer

	mu      sync.Mutex
	clients map[string]*resty.Client
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	return &Fetcher{
		cfg:     cfg,
		agents:  fetcher.NewUserAgents(cfg.UserAgents),
		tracer:  otel.Tracer(tracerName),
		clients: make(map[string]*resty.Client),
	}
}

func (f *Fetcher) client(proxy string) *resty.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[proxy]; ok {
		return c
	}
	c := resty.New().
		SetTimeout(f.cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(f.cfg.MaxRedirects))
	if proxy != "" {
		c.SetProxy(proxy)
	}
	c.OnBeforeRequest(f.onBeforeRequest)
	c.OnAfterResponse(onAfterResponse)
	c.OnError(onError)
	f.clients[proxy] = c
	return c
}

// Fetch performs one request. Non-2xx statuses are returned in the response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	headers := request.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	f.agents.Apply(headers)

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	resp, err := f.client(request.Proxy).R().
		SetContext(ctx).
		SetHeaderMultiValues(headers).
		Execute(method, request.URL)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("resty %s %s: %w", method, request.URL, err)
	}

	finalURL := request.URL
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}
	return crawler.FetchResponse{
		URL:        finalURL,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header().Clone(),
		Body:       resp.Body(),
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx, _ := f.tracer.Start(req.Context(), "http "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", req.URL)))
	req.SetContext(ctx)
	return nil
}

func onAfterResponse(_ *resty.Client, res *resty.Response) error {
	span := trace.SpanFromContext(res.Request.Context())
	defer span.End()
	span.SetAttributes(
		attribute.Int("http.status_code", res.StatusCode()),
		attribute.Int("http.response_content_length", len(res.Body())),
	)
	if res.StatusCode() >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, res.Status())
	}
	return nil
}

func onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
