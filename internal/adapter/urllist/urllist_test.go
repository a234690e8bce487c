package urllist

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEnumerate_SkipsCommentsAndBlanks(t *testing.T) {
	t.Parallel()
	src, err := New(writeList(t, "# header\nhttps://a.example/\n\n  https://b.example/  \n# note\nhttps://c.example/\n"))
	require.NoError(t, err)

	enum, err := src.Enumerate(context.Background(), 0)
	require.NoError(t, err)
	defer enum.Close()

	var urls []string
	var ids []string
	for {
		item, err := enum.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		urls = append(urls, item.URL)
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{"https://a.example/", "https://b.example/", "https://c.example/"}, urls)
	require.Equal(t, []string{"url-0", "url-1", "url-2"}, ids)
}

func TestEnumerate_FromOffset(t *testing.T) {
	t.Parallel()
	src, err := New(writeList(t, "https://a.example/\n# skip\nhttps://b.example/\nhttps://c.example/\n"))
	require.NoError(t, err)

	enum, err := src.Enumerate(context.Background(), 2)
	require.NoError(t, err)
	defer enum.Close()

	item, err := enum.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://c.example/", item.URL)
	require.Equal(t, int64(2), item.Index)
	_, err = enum.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestEnumerate_OffsetPastEnd(t *testing.T) {
	t.Parallel()
	src, err := New(writeList(t, "https://a.example/\n"))
	require.NoError(t, err)

	enum, err := src.Enumerate(context.Background(), 10)
	require.NoError(t, err)
	_, err = enum.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, enum.Close())
}

func TestEnumerate_MissingFile(t *testing.T) {
	t.Parallel()
	src, err := New(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)

	_, err = src.Enumerate(context.Background(), 0)
	require.Error(t, err)
}
