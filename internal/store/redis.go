package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pomelolab/pomelo/internal/result"
)

const keyPrefix = "pomelo:run:"

// RedisStore keeps run results in Redis with a TTL, useful when results only
// need to outlive the HTTP poll window.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Save(ctx context.Context, runID string, res *result.Specification) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+runID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving run %s: %w", runID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, runID string) (*result.Specification, error) {
	data, err := s.client.Get(ctx, keyPrefix+runID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var res result.Specification
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &res, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
