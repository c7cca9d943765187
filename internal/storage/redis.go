package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echo-civic-assistant/backend/internal/models"
	sharedredis "echo-civic-assistant/backend/shared/redis"

	"github.com/redis/go-redis/v9"
)

// Redis stores each session's history as a single string value
type Redis struct {
	client *sharedredis.RedisClient
	ttl    time.Duration
}

// NewRedis wraps a shared Redis client. A zero ttl keeps history forever.
func NewRedis(client *sharedredis.RedisClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Load implements HistoryStore
func (r *Redis) Load(ctx context.Context, key string) ([]models.Message, error) {
	payload, err := r.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return Decode([]byte(payload))
}

// Save implements HistoryStore
func (r *Redis) Save(ctx context.Context, key string, messages []models.Message) error {
	data, err := Encode(messages)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, data, r.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Clear implements HistoryStore
func (r *Redis) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
