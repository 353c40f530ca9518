package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the cache with a shared Redis instance so results survive
// restarts and are shared across replicas. Errors degrade to cache misses.
type Redis struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "faro:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Printf("redis get %s: %v", key, err)
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.logger.Printf("redis set %s: %v", key, err)
	}
}
