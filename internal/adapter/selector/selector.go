// Package selector extracts records from HTML documents with CSS selectors.
package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Config names the selectors to apply. A field selector may end in @attr to
// read an attribute instead of text, e.g. "link[rel=canonical]@href".
type Config struct {
	Content string
	Title   string
	Fields  map[string]string
}

// Extractor applies Config to each document.
type Extractor struct {
	cfg   Config
	clock crawler.Clock
}

// New returns an Extractor. Content defaults to "body".
func New(cfg Config, clock crawler.Clock) (*Extractor, error) {
	if clock == nil {
		return nil, errors.New("selector: clock is required")
	}
	if strings.TrimSpace(cfg.Content) == "" {
		cfg.Content = "body"
	}
	return &Extractor{cfg: cfg, clock: clock}, nil
}

// Extract parses doc and returns a record. Unparseable documents and an empty
// content match are extraction errors.
func (e *Extractor) Extract(_ context.Context, doc crawler.Document) (crawler.Record, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return crawler.Record{}, &crawler.ExtractionError{ItemID: doc.Item.ID, Err: fmt.Errorf("parse html: %w", err)}
	}
	page.Find("script, style, noscript").Remove()

	content := collapse(page.Find(e.cfg.Content).Text())
	if content == "" {
		return crawler.Record{}, &crawler.ExtractionError{
			ItemID: doc.Item.ID,
			Err:    fmt.Errorf("content selector %q matched nothing", e.cfg.Content),
		}
	}

	fields := make(map[string]string, len(e.cfg.Fields)+1)
	if e.cfg.Title != "" {
		if title := collapse(page.Find(e.cfg.Title).First().Text()); title != "" {
			fields["title"] = title
		}
	}
	for name, sel := range e.cfg.Fields {
		if v := lookup(page, sel); v != "" {
			fields[name] = v
		}
	}

	url := doc.FinalURL
	if url == "" {
		url = doc.URL
	}
	return crawler.Record{
		ItemID:      doc.Item.ID,
		ItemIndex:   doc.Item.Index,
		URL:         url,
		Fields:      fields,
		Content:     content,
		ExtractedAt: e.clock.Now(),
	}, nil
}

func lookup(page *goquery.Document, sel string) string {
	css, attr, hasAttr := strings.Cut(sel, "@")
	s := page.Find(css).First()
	if hasAttr {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapse(s.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
