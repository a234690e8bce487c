// Package feed enumerates the entries of an RSS or Atom feed as work items,
// in feed order. The feed may be a URL or a local file.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/crawlkit/internal/adapter"
	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Config selects the feed and how it is retrieved.
type Config struct {
	Location  string
	UserAgent string
	Timeout   time.Duration
}

// Source parses the feed on every enumeration.
type Source struct {
	cfg Config
}

// New returns a feed Source.
func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.Location) == "" {
		return nil, errors.New("feed: location is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Source{cfg: cfg}, nil
}

// Enumerate parses the feed and yields entries with a link, skipping the
// first offset of them.
func (s *Source) Enumerate(ctx context.Context, offset int64) (crawler.Enumerator, error) {
	parsed, err := s.parse(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]crawler.WorkItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil || strings.TrimSpace(entry.Link) == "" {
			continue
		}
		items = append(items, toWorkItem(entry, parsed.Title, int64(len(items))))
	}
	return adapter.NewSliceEnumerator(items, offset), nil
}

func (s *Source) parse(ctx context.Context) (*gofeed.Feed, error) {
	fp := gofeed.NewParser()
	if s.cfg.UserAgent != "" {
		fp.UserAgent = s.cfg.UserAgent
	}
	fp.Client = &http.Client{Timeout: s.cfg.Timeout}

	if strings.HasPrefix(s.cfg.Location, "http://") || strings.HasPrefix(s.cfg.Location, "https://") {
		parsed, err := fp.ParseURLWithContext(s.cfg.Location, ctx)
		if err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", s.cfg.Location, err)
		}
		return parsed, nil
	}

	f, err := os.Open(s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	parsed, err := fp.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.cfg.Location, err)
	}
	return parsed, nil
}

func toWorkItem(entry *gofeed.Item, feedTitle string, index int64) crawler.WorkItem {
	id := entry.GUID
	if id == "" {
		id = entry.Link
	}
	meta := map[string]string{}
	if entry.Title != "" {
		meta["title"] = entry.Title
	}
	if feedTitle != "" {
		meta["feed"] = feedTitle
	}
	if entry.PublishedParsed != nil {
		meta["published"] = entry.PublishedParsed.UTC().Format(time.RFC3339)
	} else if entry.UpdatedParsed != nil {
		meta["published"] = entry.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	return crawler.WorkItem{
		ID:    id,
		Index: index,
		URL:   strings.TrimSpace(entry.Link),
		Meta:  meta,
	}
}
