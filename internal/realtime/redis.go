package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "teamulate:project:"

// RedisBackplane shares room traffic between API instances over Redis
// pub/sub. Each project publishes on its own channel.
type RedisBackplane struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBackplane(client *redis.Client, logger *slog.Logger) *RedisBackplane {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackplane{client: client, logger: logger}
}

func (b *RedisBackplane) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return b.client.Publish(ctx, redisChannelPrefix+msg.topic(), data).Err()
}

func (b *RedisBackplane) Subscribe(ctx context.Context, deliver func(Message)) error {
	pubsub := b.client.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("psubscribe: %w", err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for m := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("discarding malformed backplane message", "channel", m.Channel, "error", err)
				continue
			}
			deliver(msg)
		}
	}()
	return nil
}

func (b *RedisBackplane) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
