package feed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example News</title>
  <item>
    <title>First</title>
    <link>https://news.example/1</link>
    <guid>guid-1</guid>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
  </item>
  <item>
    <title>No link</title>
  </item>
  <item>
    <title>Second</title>
    <link>https://news.example/2</link>
  </item>
  <item>
    <title>Third</title>
    <link>https://news.example/3</link>
    <guid>guid-3</guid>
  </item>
</channel>
</rss>`

func drain(t *testing.T, enum crawler.Enumerator) []crawler.WorkItem {
	t.Helper()
	var out []crawler.WorkItem
	for {
		item, err := enum.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func TestEnumerate_FromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	src, err := New(Config{Location: srv.URL + "/feed.xml"})
	require.NoError(t, err)
	enum, err := src.Enumerate(context.Background(), 0)
	require.NoError(t, err)

	items := drain(t, enum)
	require.Len(t, items, 3)
	require.Equal(t, "guid-1", items[0].ID)
	require.Equal(t, "https://news.example/2", items[1].ID, "link stands in for a missing guid")
	require.Equal(t, "First", items[0].Meta["title"])
	require.Equal(t, "Example News", items[0].Meta["feed"])
	require.Equal(t, "2006-01-02T15:04:05Z", items[0].Meta["published"])
	require.Equal(t, int64(2), items[2].Index)
}

func TestEnumerate_FromFileWithOffset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte(rssFixture), 0o600))

	src, err := New(Config{Location: path})
	require.NoError(t, err)
	enum, err := src.Enumerate(context.Background(), 2)
	require.NoError(t, err)

	items := drain(t, enum)
	require.Len(t, items, 1)
	require.Equal(t, "https://news.example/3", items[0].URL)
}

func TestEnumerate_BadFeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte("not a feed"), 0o600))

	src, err := New(Config{Location: path})
	require.NoError(t, err)
	_, err = src.Enumerate(context.Background(), 0)
	require.Error(t, err)
}

func TestNew_RequiresLocation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
