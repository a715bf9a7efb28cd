package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

type Kind string

const (
	KindEvent      Kind = "event"
	KindEvict      Kind = "evict"
	KindClose      Kind = "close"
	KindRevalidate Kind = "revalidate"
)

// Message is what travels between registries over a backplane.
type Message struct {
	Kind      Kind            `json:"kind"`
	ProjectID string          `json:"projectId"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// topic routes a message on the backplane. User-wide messages carry no
// project and share one topic.
func (m Message) topic() string {
	if m.ProjectID == "" {
		return "_users"
	}
	return m.ProjectID
}

// Backplane carries room traffic between processes. Subscribe hands every
// received message to deliver, in order, from a single goroutine.
type Backplane interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, deliver func(Message)) error
	Close() error
}

// LocalBackplane loops messages straight back into the same process.
type LocalBackplane struct {
	mu      sync.RWMutex
	deliver func(Message)
}

func NewLocalBackplane() *LocalBackplane {
	return &LocalBackplane{}
}

func (b *LocalBackplane) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(msg)
	}
	return nil
}

func (b *LocalBackplane) Subscribe(_ context.Context, deliver func(Message)) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	return nil
}

func (b *LocalBackplane) Close() error {
	return nil
}
