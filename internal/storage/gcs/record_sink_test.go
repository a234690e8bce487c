package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

func newTestSink(t *testing.T, handler http.Handler) *RecordSink {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sink, err := New(client, Config{Bucket: "test-bucket", Prefix: "records"})
	require.NoError(t, err)
	return sink
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestRecordSink_Write(t *testing.T) {
	t.Parallel()

	var uploaded string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "records/fp1.json", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		uploaded = string(body)
		fmt.Fprintln(w, `{"name":"records/fp1.json","bucket":"test-bucket"}`)
	})
	sink := newTestSink(t, handler)

	err := sink.Write(context.Background(), crawler.Record{ItemID: "item-1", Fingerprint: "fp1", Content: "hello"})
	require.NoError(t, err)
	require.Contains(t, uploaded, `"item_id":"item-1"`)
}

func TestRecordSink_WriteExistingObjectIsNoop(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	})
	sink := newTestSink(t, handler)

	require.NoError(t, sink.Write(context.Background(), crawler.Record{Fingerprint: "fp1"}))
}

func TestRecordSink_WriteFailureIsStorageError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})
	sink := newTestSink(t, handler)

	err := sink.Write(context.Background(), crawler.Record{Fingerprint: "fp1"})
	require.Error(t, err)
	require.True(t, crawler.IsStorage(err))
}

func TestRecordSink_Fingerprints(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/b/test-bucket/o"))
		assert.Equal(t, "records/", r.URL.Query().Get("prefix"))
		fmt.Fprintln(w, `{"items":[{"name":"records/fp1.json"},{"name":"records/fp2.json"},{"name":"records/notes.txt"}]}`)
	})
	sink := newTestSink(t, handler)

	got, err := sink.Fingerprints(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"fp1", "fp2"}, got)
}
