package statestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the state when none is configured.
const DefaultRedisKey = "plughost:plugin-state"

// RedisStore keeps the state in a Redis hash of key -> "true"|"false".
type RedisStore struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// NewRedisStore creates a store over an existing client. The client is
// not closed by Close.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedis connects to the server at url and pings it.
func OpenRedis(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	s := NewRedisStore(client, key)
	s.owned = true
	return s, nil
}

// Load reads the hash.
func (s *RedisStore) Load(ctx context.Context) (map[string]bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("loading plugin state: %w", err)
	}

	state := make(map[string]bool, len(fields))
	for k, v := range fields {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("plugin state %q: %w", k, err)
		}
		state[k] = b
	}
	return state, nil
}

// Save replaces the hash in one transaction.
func (s *RedisStore) Save(ctx context.Context, state map[string]bool) error {
	values := make(map[string]any, len(state))
	for k, v := range state {
		values[k] = strconv.FormatBool(v)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving plugin state: %w", err)
	}
	return nil
}

// Close closes the client if the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
