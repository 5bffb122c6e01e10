package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"feedtrace/internal/domain"
)

// RedisCache реализует domain.MetaCache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.MetaCache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get возвращает значение; redis.Nil при отсутствии ключа.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

// Set задаёт значение с TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
