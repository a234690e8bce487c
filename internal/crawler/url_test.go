package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host and scheme", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sorts query", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"adds root path", "https://example.com", "https://example.com/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_RejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/just/a/path")
	require.Error(t, err)
}

func TestRequestKey_EquivalentRequestsShareKey(t *testing.T) {
	t.Parallel()

	a, err := RequestKey(WorkItem{URL: "https://Example.com/list?page=2&sort=asc"})
	require.NoError(t, err)
	b, err := RequestKey(WorkItem{URL: "https://example.com:443/list?sort=asc", Params: map[string]string{"page": "2"}})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestRequestKey_MethodAndParamsMatter(t *testing.T) {
	t.Parallel()

	get, err := RequestKey(WorkItem{URL: "https://example.com/a"})
	require.NoError(t, err)
	post, err := RequestKey(WorkItem{URL: "https://example.com/a", Method: "POST"})
	require.NoError(t, err)
	paged, err := RequestKey(WorkItem{URL: "https://example.com/a", Params: map[string]string{"page": "3"}})
	require.NoError(t, err)

	require.NotEqual(t, get, post)
	require.NotEqual(t, get, paged)
}

func TestHostKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", HostKey("https://EXAMPLE.com:8443/x"))
	require.Equal(t, "unknown", HostKey("::not a url"))
	require.Equal(t, "unknown", HostKey(""))
}
