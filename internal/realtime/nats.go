package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsSubjectPrefix = "teamulate.project."
	natsFlushTimeout  = 5 * time.Second
)

// NATSBackplane shares room traffic between API instances over core NATS
// subjects, one per project.
type NATSBackplane struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSBackplane(conn *nats.Conn, logger *slog.Logger) *NATSBackplane {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBackplane{conn: conn, logger: logger}
}

func (b *NATSBackplane) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := b.conn.Publish(natsSubjectPrefix+msg.topic(), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBackplane) Subscribe(ctx context.Context, deliver func(Message)) error {
	sub, err := b.conn.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("discarding malformed backplane message", "subject", m.Subject, "error", err)
			return
		}
		deliver(msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	// FlushWithContext refuses contexts without a deadline.
	flushCtx, cancel := context.WithTimeout(ctx, natsFlushTimeout)
	defer cancel()
	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

func (b *NATSBackplane) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
