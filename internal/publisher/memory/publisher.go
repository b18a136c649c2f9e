// Package memory keeps published events in process for single-node deployments. The retained
// events back the /api/debug/events endpoint.
package memory

import (
	"context"
	"fmt"
	"sync"
)

const defaultCapacity = 1000

// Publisher stores the most recent published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	total    int
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// New returns a memory Publisher that retains at most capacity messages.
func New(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// Publish records the message and returns a pseudo ID. The oldest message is dropped once full.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	if len(p.messages) == p.capacity {
		copy(p.messages, p.messages[1:])
		p.messages = p.messages[:len(p.messages)-1]
	}
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Recent returns up to limit retained publishes, newest first. A non-positive limit returns all.
func (p *Publisher) Recent(limit int) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.messages)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PublishedMessage, 0, n)
	for i := len(p.messages) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, p.messages[i])
	}
	return out
}

// Total returns how many messages were ever published.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}
