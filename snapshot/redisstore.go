package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKey is the single key snapshots are stored under; the gateway
// keeps exactly one live snapshot blob, overwritten on each export.
const redisKey = "aigw:snapshot"

// RedisStore persists exported snapshot blobs to Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store from a Redis connection URL (e.g.
// redis://host:6379/0).
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("snapshot: invalid redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Save writes blob as the current snapshot.
func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Set(ctx, redisKey, blob, 0).Err()
}

// Load reads the current snapshot blob, if any.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	blob, err := s.client.Get(ctx, redisKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading from redis: %w", err)
	}
	return blob, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
