// Package pubsub implements a record sink that publishes to Google Cloud
// Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/crawlkit/internal/crawler"
)

// Config names the project and topic records are published to.
type Config struct {
	ProjectID string
	TopicID   string
}

// Sink publishes each record as a JSON message. Write blocks until the
// server acknowledges the message.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// New creates a Sink for topic.
func New(topic *pubsub.Topic) *Sink {
	return &Sink{topic: topic}
}

// Open creates a Pub/Sub client for cfg.ProjectID and returns a sink on
// cfg.TopicID that owns the client.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Sink{client: client, topic: client.Topic(cfg.TopicID), owned: true}, nil
}

// Write marshals record to JSON, publishes it, and waits for the ack.
func (s *Sink) Write(ctx context.Context, record crawler.Record) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return crawler.NewStorageError("publish record", fmt.Errorf("marshal record: %w", err))
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"fingerprint": record.Fingerprint,
			"item_id":     record.ItemID,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return crawler.NewStorageError("publish record", err)
	}
	return nil
}

// Close flushes pending messages and releases the client if owned.
func (s *Sink) Close() error {
	if s.topic != nil {
		s.topic.Stop()
	}
	if s.owned && s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
