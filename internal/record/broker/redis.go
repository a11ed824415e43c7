package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes record writes on one Redis channel per date:
// "<prefix><date>", with the Message JSON-encoded as payload.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker creates a Redis pub/sub broker. Prefix may be empty.
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "censo:record:"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) channel(key string) string {
	return b.prefix + key
}

func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(msg.Key), payload).Err()
}

// Subscribe blocks until Redis confirms the subscription, then delivers
// messages from a background goroutine until unsubscribe is called.
func (b *RedisBroker) Subscribe(ctx context.Context, key string, fn func(Message)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(key))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Warnf("broker: dropping undecodable message on %s: %v", m.Channel, err)
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			wg.Wait()
		})
	}, nil
}
