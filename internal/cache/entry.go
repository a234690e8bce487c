package cache

import (
	"net/http"
	"time"
)

// Entry is a cached raw response. Entries are immutable once stored: callers
// must not modify Headers or Body of an Entry they received.
type Entry struct {
	Key        string
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Freshness  time.Duration
}

// Fresh reports whether the entry is still within its freshness window.
func (e Entry) Fresh(now time.Time) bool {
	if e.Freshness <= 0 {
		return false
	}
	return now.Sub(e.FetchedAt) < e.Freshness
}

// Size approximates the entry's footprint in bytes.
func (e Entry) Size() int {
	n := len(e.Key) + len(e.URL) + len(e.FinalURL) + len(e.Body)
	for k, vs := range e.Headers {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return n
}
