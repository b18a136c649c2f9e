// Package pubsub publishes session events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// New creates a Publisher for an existing topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Connect opens a client for projectID and a publisher for topicID.
func Connect(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, publisher: client.Publisher(topicID)}, nil
}

// Publish marshals the payload to JSON and publishes it. The topic argument is ignored;
// the publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// attributes exposes routing fields so subscribers can filter without decoding the body.
func attributes(payload any) map[string]string {
	attrs := map[string]string{}
	if evt, ok := payload.(scraper.Event); ok {
		attrs["event_type"] = evt.Type
		if evt.SessionID != "" {
			attrs["session_id"] = evt.SessionID
		}
	}
	return attrs
}
