package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// JSONLSink appends one JSON record per line and fsyncs after every write.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLSink opens path for appending. A torn final line left by a crash
// is truncated so the next append starts on a clean line.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if err := repairTail(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open jsonl sink: %w", err)
	}
	return &JSONLSink{path: path, f: f}, nil
}

// Write appends record and syncs it to disk.
func (s *JSONLSink) Write(_ context.Context, record crawler.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("jsonl sink closed")
	}
	if _, err := s.f.Write(line); err != nil {
		return crawler.NewStorageError("append record", err)
	}
	if err := s.f.Sync(); err != nil {
		return crawler.NewStorageError("sync record", err)
	}
	return nil
}

// Fingerprints scans the file and returns the fingerprint of every record.
func (s *JSONLSink) Fingerprints(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl for replay: %w", err)
	}
	defer f.Close()

	var fps []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var rec struct {
			Fingerprint string `json:"fingerprint"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.Fingerprint == "" {
			continue
		}
		fps = append(fps, rec.Fingerprint)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return fps, nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// repairTail truncates path after its last newline.
func repairTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open jsonl for repair: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat jsonl: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read jsonl tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return nil
			}
			return truncateSync(f, keep)
		}
		end = start
	}
	return truncateSync(f, 0)
}

func truncateSync(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate torn record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync truncated jsonl: %w", err)
	}
	return nil
}
