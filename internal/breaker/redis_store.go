package breaker

import (
	"context"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey holds the breaker record set when no key is configured
const DefaultRedisKey = "risk:circuit_breakers"

// RedisStore keeps the full breaker record set under one Redis key
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedisStore connects to addr and pings it
func DialRedisStore(ctx context.Context, addr, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, key), nil
}

// Save implements StateStore. The whole set is rewritten in one SET.
func (r *RedisStore) Save(ctx context.Context, records map[string]Record) error {
	if records == nil {
		records = map[string]Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write breaker state to redis: %w", err)
	}
	return nil
}

// Load implements StateStore. A missing key is an empty state.
func (r *RedisStore) Load(ctx context.Context) (map[string]Record, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker state from redis: %w", err)
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breaker state: %w", err)
	}
	return records, nil
}

// Close releases the client when it owns a connection pool
func (r *RedisStore) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
