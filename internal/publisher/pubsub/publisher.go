// Package pubsub announces finished runs on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Config identifies the topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher publishes JSON payloads to one topic.
type Publisher struct {
	topicID string
	send    sendFunc
	stop    func()
	closer  func() error
}

// Open creates a client and verifies the topic exists.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, errors.New("project id and topic id are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check topic: %w", err)
	}
	p := New(topic)
	p.closer = client.Close
	return p, nil
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{
		topicID: topic.ID(),
		send: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
		stop: topic.Stop,
	}
}

// Publish marshals payload to JSON and waits for the server to acknowledge it.
// The topic argument is recorded as an attribute; messages always go to the
// topic the publisher was opened with.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.send == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"content-type": "application/json",
			"event":        topic,
		},
	}
	id, err := p.send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topicID, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p.stop != nil {
		p.stop()
	}
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
