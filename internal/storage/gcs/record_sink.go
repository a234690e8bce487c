// Package gcs provides a record sink backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Config captures the bucket and object prefix records are written under.
type Config struct {
	Bucket string
	Prefix string
}

// RecordSink writes each record as its own JSON object named after the record
// fingerprint. Objects are created with a does-not-exist precondition, so a
// replayed write is a no-op.
type RecordSink struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// New creates a GCS-backed record sink using client.
func New(client *storage.Client, cfg Config) (*RecordSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &RecordSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Open creates a client from application default credentials, checks that the
// bucket is reachable, and returns a sink that closes the client on Close.
func Open(ctx context.Context, cfg Config) (*RecordSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	sink, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sink.owned = true
	return sink, nil
}

func (s *RecordSink) objectName(fingerprint string) string {
	name := fingerprint + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Write uploads record. It returns only after GCS has committed the object.
func (s *RecordSink) Write(ctx context.Context, record crawler.Record) error {
	if record.Fingerprint == "" {
		return fmt.Errorf("record fingerprint is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return crawler.NewStorageError("write record", fmt.Errorf("marshal record: %w", err))
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectName(record.Fingerprint)).
		If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return crawler.NewStorageError("write record", fmt.Errorf("write object: %w", err))
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			return nil
		}
		return crawler.NewStorageError("write record", fmt.Errorf("close writer: %w", err))
	}
	return nil
}

// Fingerprints lists the fingerprints of objects already in the bucket.
func (s *RecordSink) Fingerprints(ctx context.Context) ([]string, error) {
	query := &storage.Query{}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		name := path.Base(attrs.Name)
		if fp, ok := strings.CutSuffix(name, ".json"); ok {
			out = append(out, fp)
		}
	}
	return out, nil
}

// Close releases the client when the sink created it.
func (s *RecordSink) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
