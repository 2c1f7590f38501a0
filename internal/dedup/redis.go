package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "sentiment:seen:"

// Redis shares the seen set between replicas using SETNX with a TTL.
// Redis errors fail open: the message is processed and the storage layer
// rejects duplicates.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(addr, prefix string, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisWithClient(rdb, prefix, ttl), nil
}

func newRedisWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Redis) TryAcquire(ctx context.Context, id string) (bool, error) {
	acquired, err := r.rdb.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("redis setnx %s: %w", id, err)
	}
	return acquired, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
