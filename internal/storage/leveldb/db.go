// Package leveldb stores the crawl core's durable state in a single goleveldb
// database: the disk cache tier, the fingerprint index, checkpoints, and the
// failure ledger, each under its own key prefix.
package leveldb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/http"

	goleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	prefixCacheEntry = "c:e:"
	prefixCacheMeta  = "c:m:"
	prefixFinger     = "f:"
	prefixCheckpoint = "k:"
	prefixFailure    = "x:"
)

var syncWrite = &opt.WriteOptions{Sync: true}

func init() {
	gob.Register(http.Header{})
}

// DB wraps an open goleveldb database.
type DB struct {
	db *goleveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := goleveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	return nil
}

// forEach calls fn for every key under prefix, with the prefix stripped.
func (d *DB) forEach(prefix string, fn func(key string, value []byte) error) error {
	it := d.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), []byte(prefix)))
		if err := fn(key, it.Value()); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
