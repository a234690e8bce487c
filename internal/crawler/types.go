package crawler

import (
	"net/http"
	"time"
)

// WorkItem is one unit of crawl work supplied by a site adapter.
type WorkItem struct {
	ID     string            `json:"id"`
	Index  int64             `json:"index"`
	URL    string            `json:"url"`
	Method string            `json:"method,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// HTTPMethod returns the request method, defaulting to GET.
func (w WorkItem) HTTPMethod() string {
	if w.Method == "" {
		return http.MethodGet
	}
	return w.Method
}

// Document is a fetched raw response handed to the adapter for extraction.
type Document struct {
	Item       WorkItem
	Key        string
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	FromCache  bool
}

// Record is the extracted output for a work item.
type Record struct {
	ItemID      string            `json:"item_id"`
	ItemIndex   int64             `json:"item_index"`
	URL         string            `json:"url"`
	Fields      map[string]string `json:"fields,omitempty"`
	Content     string            `json:"content"`
	Fingerprint string            `json:"fingerprint"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Failure is a durable ledger entry for a work item that could not complete.
type Failure struct {
	Item     WorkItem  `json:"item"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// FetchRequest captures everything a Fetcher needs for one network call.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	// Proxy is the egress proxy URL; empty means direct.
	Proxy string
}

// FetchResponse is the raw result of a network call.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
