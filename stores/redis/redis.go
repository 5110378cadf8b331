// Package redis shares access tokens and saved connection state between
// processes through Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	bc "github.com/panyam/boxconn"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "boxconn"

// Option configures a TokenCache or StateStore.
type Option func(*options)

type options struct {
	prefix string
	clock  clockwork.Clock
}

// WithPrefix sets the key prefix. An empty prefix writes bare keys.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithClock sets the clock used to compute token TTLs.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) key(kind, key string) string {
	if o.prefix == "" {
		return kind + ":" + key
	}
	return o.prefix + ":" + kind + ":" + key
}

// TokenCache implements boxconn.AccessTokenCache. Each entry is a JSON
// TokenState whose Redis TTL matches the token's remaining lifetime.
type TokenCache struct {
	client redis.Cmdable
	opts   options
}

// NewTokenCache creates a cache on client.
func NewTokenCache(client redis.Cmdable, opts ...Option) *TokenCache {
	return &TokenCache{client: client, opts: newOptions(opts)}
}

func (c *TokenCache) Get(ctx context.Context, key string) (bc.TokenState, bool, error) {
	val, err := c.client.Get(ctx, c.opts.key("token", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return bc.TokenState{}, false, nil
	}
	if err != nil {
		return bc.TokenState{}, false, fmt.Errorf("failed to get token from redis: %w", err)
	}

	var state bc.TokenState
	if err := json.Unmarshal(val, &state); err != nil {
		return bc.TokenState{}, false, fmt.Errorf("failed to decode cached token: %w", err)
	}
	if state.NeedsRefresh(c.opts.clock.Now()) {
		return bc.TokenState{}, false, nil
	}
	return state, true, nil
}

// Put caches state until it expires. An already expired state is not cached.
func (c *TokenCache) Put(ctx context.Context, key string, state bc.TokenState) error {
	now := c.opts.clock.Now()
	ttl := state.ExpiresAt().Sub(now)
	if state.NeedsRefresh(now) || ttl <= 0 {
		return c.Delete(ctx, key)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := c.client.Set(ctx, c.opts.key("token", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

func (c *TokenCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.opts.key("token", key)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// StateStore implements boxconn.StateStore with one string key per state.
type StateStore struct {
	client redis.Cmdable
	opts   options
}

// NewStateStore creates a state store on client.
func NewStateStore(client redis.Cmdable, opts ...Option) *StateStore {
	return &StateStore{client: client, opts: newOptions(opts)}
}

func (s *StateStore) Load(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.opts.key("state", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", bc.ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load state from redis: %w", err)
	}
	return val, nil
}

func (s *StateStore) Store(ctx context.Context, key, state string) error {
	if err := s.client.Set(ctx, s.opts.key("state", key), state, 0).Err(); err != nil {
		return fmt.Errorf("failed to store state in redis: %w", err)
	}
	return nil
}

func (s *StateStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.opts.key("state", key)).Err(); err != nil {
		return fmt.Errorf("failed to remove state from redis: %w", err)
	}
	return nil
}

// Keys scans for stored states. The order is unspecified.
func (s *StateStore) Keys(ctx context.Context) ([]string, error) {
	prefix := s.opts.key("state", "")
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan states in redis: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

var (
	_ bc.AccessTokenCache = (*TokenCache)(nil)
	_ bc.StateStore       = (*StateStore)(nil)
)
