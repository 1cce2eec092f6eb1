package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/sensebox-telemetry-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sensebox:artifact:"

// RedisStore keeps artifacts as plain string values keyed by path, so
// several analytics replicas can share one model.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Save stores data without expiry.
func (r *RedisStore) Save(ctx context.Context, path string, data []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+path, data, 0).Err(); err != nil {
		return fmt.Errorf("save artifact %s: %w", path, err)
	}
	return nil
}

// Load fetches the artifact stored under path.
func (r *RedisStore) Load(ctx context.Context, path string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", path, err)
	}
	return data, nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
