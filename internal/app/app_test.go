package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlkit/internal/config"
	"github.com/JakeFAU/crawlkit/internal/storage/local"
)

// MockCloser records Close calls.
type MockCloser struct {
	mock.Mock
}

// Close satisfies the closer signature for the mock.
func (m *MockCloser) Close() error {
	args := m.Called()
	return args.Error(0)
}

func page(body string) string {
	return "<html><head><title>Item</title></head><body><p>" + body + "</p></body></html>"
}

func newSite(t *testing.T, broken *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, page("alpha")) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, page("beta")) })
	mux.HandleFunc("/mirror-a", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, page("  alpha ")) })
	mux.HandleFunc("/c", func(w http.ResponseWriter, _ *http.Request) {
		if broken != nil && broken.Load() {
			http.NotFound(w, nil)
			return
		}
		fmt.Fprint(w, page("gamma"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, siteURL string, paths ...string) config.Config {
	t.Helper()
	dir := t.TempDir()
	list := filepath.Join(dir, "urls.txt")
	lines := []string{"# fixtures"}
	for _, p := range paths {
		lines = append(lines, siteURL+p)
	}
	require.NoError(t, os.WriteFile(list, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	cfg, err := config.Load("")
	require.NoError(t, err)
	stateDir := filepath.Join(dir, "state")
	cfg.Crawl.Name = "test"
	cfg.Crawl.Workers = 2
	cfg.Crawl.StateDir = stateDir
	cfg.State.Path = filepath.Join(stateDir, "state.ldb")
	cfg.Cache.Path = filepath.Join(stateDir, "cache.ldb")
	cfg.Sink.Path = filepath.Join(stateDir, "records.jsonl")
	cfg.RateLimit.MinInterval = 0
	cfg.Retry.MaxRetries = 0
	cfg.Adapter.Source = list
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t, nil)
	cfg := testConfig(t, site.URL, "/a", "/b", "/mirror-a", "/c")
	cfg.Cache.Backend = "tiered"
	cfg.Server.Enabled = true
	cfg.Server.Addr = "127.0.0.1:0"
	ctx := context.Background()

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	report, err := a.Run(ctx, false)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Equal(t, int64(4), report.Enumerated)
	assert.Equal(t, int64(3), report.Stored)
	assert.Equal(t, int64(1), report.Duplicates)
	assert.Equal(t, int64(3), report.DedupSize)
	assert.Equal(t, int64(3), report.Checkpoint)

	data, err := os.ReadFile(cfg.Sink.Path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))

	_, err = os.Stat(filepath.Join(cfg.Crawl.StateDir, ReportFile))
	require.NoError(t, err)

	// A second run resumes past the end and finds nothing to do.
	a, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	report, err = a.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.ResumedFrom)
	assert.Equal(t, int64(0), report.Enumerated)
	assert.Equal(t, int64(3), a.Checkpoint().Position())
}

func TestRunRetryFailed(t *testing.T) {
	t.Parallel()

	var broken atomic.Bool
	broken.Store(true)
	site := newSite(t, &broken)
	cfg := testConfig(t, site.URL, "/a", "/c")
	cfg.State.Backend = "sqlite"
	cfg.State.Path = filepath.Join(cfg.Crawl.StateDir, "state.sqlite")
	cfg.Checkpoint.Backend = "file"
	ctx := context.Background()

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	report, err := a.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Failed)

	failures, err := a.Failures().Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, site.URL+"/c", failures[0].Item.URL)

	broken.Store(false)
	report, err = a.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "retry-failed", report.Mode)
	assert.Equal(t, int64(1), report.Stored)

	failures, err = a.Failures().Failures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestOpenStateLocksDirectory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://unused.invalid")
	cfg.State.Backend = "memory"
	ctx := context.Background()

	a, err := OpenState(ctx, cfg, nil)
	require.NoError(t, err)

	_, err = OpenState(ctx, cfg, nil)
	require.ErrorIs(t, err, local.ErrLocked)

	require.NoError(t, a.Close())
	b, err := OpenState(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestRunRequiresPipeline(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://unused.invalid")
	cfg.State.Backend = "memory"
	a, err := OpenState(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Runner())
	_, err = a.Run(context.Background(), false)
	require.Error(t, err)
}

func TestCloseRunsClosersInReverseAndJoinsErrors(t *testing.T) {
	t.Parallel()

	var order []string
	first := new(MockCloser)
	first.On("Close").Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil)
	second := new(MockCloser)
	second.On("Close").Run(func(mock.Arguments) { order = append(order, "second") }).Return(errors.New("boom"))

	a := &App{logger: zap.NewNop()}
	a.onClose("first", first.Close)
	a.onClose("second", second.Close)

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close second: boom")
	assert.Equal(t, []string{"second", "first"}, order)
	first.AssertExpectations(t)
	second.AssertExpectations(t)

	require.NoError(t, a.Close())
}

func TestBuildRejectsUnknownKinds(t *testing.T) {
	t.Parallel()

	a := &App{logger: zap.NewNop()}
	a.cfg.Sink.Kind = "ftp"
	_, err := a.buildSink(context.Background())
	require.Error(t, err)

	a.cfg.Cache.Backend = "redis"
	_, err = a.buildCacheStore()
	require.Error(t, err)

	a.cfg.Adapter.Kind = "sitemap"
	_, err = a.buildAdapter()
	require.Error(t, err)
}

func TestLimiterConfigCarriesHostOverrides(t *testing.T) {
	t.Parallel()

	a := &App{}
	a.cfg.RateLimit.MinInterval = time.Second
	a.cfg.RateLimit.Hosts = []config.HostLimit{
		{Host: "example.com", MinInterval: 5 * time.Second, Burst: 2},
		{Host: "WWW.BBC.co.uk", MinInterval: 3 * time.Second},
	}

	got := a.limiterConfig()
	assert.Equal(t, time.Second, got.MinInterval)
	assert.Equal(t, 5*time.Second, got.Hosts["example.com"].MinInterval)
	assert.Equal(t, 2, got.Hosts["example.com"].Burst)
	assert.Equal(t, 3*time.Second, got.Hosts["www.bbc.co.uk"].MinInterval)
}
