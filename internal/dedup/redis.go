package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSet is a fingerprint set shared across processes, backed by a single
// Redis set key. SADD gives the atomic add-if-absent semantics.
type RedisSet struct {
	client *redis.Client
	key    string
}

// NewRedisSet connects to Redis and verifies reachability. The key scopes the
// set so independent crawl targets do not collide.
func NewRedisSet(addr, key string) (*RedisSet, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisSet{client: client, key: key}, nil
}

// Add inserts the member and reports whether it was absent.
func (s *RedisSet) Add(ctx context.Context, member string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key, member).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", s.key, err)
	}
	return added == 1, nil
}

// Close releases the client connection pool.
func (s *RedisSet) Close() error {
	return s.client.Close()
}
