package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)
	return srv, topic
}

func TestSink_WritePublishesRecord(t *testing.T) {
	t.Parallel()
	srv, topic := newTestTopic(t)
	sink := New(topic)

	rec := crawler.Record{ItemID: "item-1", Fingerprint: "fp1", Content: "hello"}
	require.NoError(t, sink.Write(context.Background(), rec))
	require.NoError(t, sink.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "fp1", msgs[0].Attributes["fingerprint"])

	var got crawler.Record
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, rec.ItemID, got.ItemID)
	require.Equal(t, rec.Content, got.Content)
}

func TestSink_WriteWithoutTopic(t *testing.T) {
	t.Parallel()

	err := New(nil).Write(context.Background(), crawler.Record{})
	require.Error(t, err)
}

func TestPubsubCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
