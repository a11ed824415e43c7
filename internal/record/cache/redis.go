package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores records as JSON under key "<prefix><date>". It suits a
// ward kiosk where several local processes share one cache.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ record.LocalCache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed cache. Prefix may be empty; a zero
// ttl keeps entries until deleted.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "censo:cache:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) key(date string) string {
	return r.prefix + date
}

func (r *RedisCache) Get(ctx context.Context, key string) (*record.Document, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var d record.Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, doc *record.Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(key), b, r.ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Keys lists cached dates, newest first.
func (r *RedisCache) Keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
