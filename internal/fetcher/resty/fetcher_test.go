package restyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlkit/internal/crawler"
	"github.com/JakeFAU/crawlkit/internal/fetcher"
)

func TestFetch_ReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		assert.Equal(t, fetcher.DefaultUserAgent, r.UserAgent())
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "text/plain", resp.Headers.Get("Content-Type"))
	require.Equal(t, srv.URL+"/page", resp.URL)
}

func TestFetch_ErrorStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFetch_FollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/new", resp.URL)
	require.Equal(t, "moved", string(resp.Body))
}

func TestFetch_UsesProxy(t *testing.T) {
	t.Parallel()

	var proxied atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		assert.Equal(t, "origin.invalid", r.URL.Hostname())
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:   "http://origin.invalid/data",
		Proxy: proxy.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "via proxy", string(resp.Body))
	require.Equal(t, int32(1), proxied.Load())
	require.Len(t, f.clients, 1)
}

func TestFetch_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.FetchRequest{URL: addr})
	require.Error(t, err)
}
