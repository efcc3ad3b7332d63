package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so session state survives restarts
// and is visible to every bot replica.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Prefix string
	TTL    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(chatID int64) string {
	k := stateKey(chatID)
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Save(ctx context.Context, chatID int64, state State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	state.UpdatedAt = time.Now()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}

	if err := s.client.Set(ctx, s.key(chatID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Load fetches a chat's pending state. A missing key is a clean miss,
// not an error.
func (s *RedisStore) Load(ctx context.Context, chatID int64) (State, bool, error) {
	if err := ctx.Err(); err != nil {
		return State{}, false, fmt.Errorf("context error: %w", err)
	}

	payload, err := s.client.Get(ctx, s.key(chatID)).Bytes()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, false, fmt.Errorf("session: unmarshal state: %w", err)
	}
	return state, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Del(ctx, s.key(chatID)).Err()
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
