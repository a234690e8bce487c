// Package urllist enumerates work items from a newline-delimited URL file.
// Blank lines and lines starting with # are skipped and do not count toward
// the enumeration offset.
package urllist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Source reads URLs from a file on every enumeration.
type Source struct {
	path string
}

// New returns a Source for path.
func New(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("urllist: path is required")
	}
	return &Source{path: path}, nil
}

// Enumerate opens the file and skips the first offset URLs.
func (s *Source) Enumerate(ctx context.Context, offset int64) (crawler.Enumerator, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	e := &enumerator{file: f, scanner: bufio.NewScanner(f)}
	for e.index < offset {
		if _, err := e.Next(ctx); err != nil {
			_ = f.Close()
			if errors.Is(err, io.EOF) {
				return &enumerator{done: true}, nil
			}
			return nil, err
		}
	}
	return e, nil
}

type enumerator struct {
	file    *os.File
	scanner *bufio.Scanner
	index   int64
	done    bool
}

func (e *enumerator) Next(ctx context.Context) (crawler.WorkItem, error) {
	if e.done {
		return crawler.WorkItem{}, io.EOF
	}
	for e.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return crawler.WorkItem{}, err
		}
		line := strings.TrimSpace(e.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		item := crawler.WorkItem{
			ID:    "url-" + strconv.FormatInt(e.index, 10),
			Index: e.index,
			URL:   line,
		}
		e.index++
		return item, nil
	}
	if err := e.scanner.Err(); err != nil {
		return crawler.WorkItem{}, fmt.Errorf("read url list: %w", err)
	}
	e.done = true
	return crawler.WorkItem{}, io.EOF
}

func (e *enumerator) Close() error {
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}
