// Package memory provides an in-process access-token cache.
package memory

import (
	"context"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	bc "github.com/panyam/boxconn"
)

// TokenCache implements boxconn.AccessTokenCache using ttlcache. Entries live
// until the cached token expires.
type TokenCache struct {
	cache *ttlcache.Cache[string, bc.TokenState]
	clock clockwork.Clock
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithClock sets the clock used to decide token expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *TokenCache) { c.clock = clock }
}

// NewTokenCache creates an empty cache. Expired entries are dropped on read;
// call Start to also sweep them in the background.
func NewTokenCache(opts ...Option) *TokenCache {
	c := &TokenCache{
		cache: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, bc.TokenState]()),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the expiry sweeper until Close is called.
func (c *TokenCache) Start() {
	go c.cache.Start()
}

// Close stops the sweeper started by Start.
func (c *TokenCache) Close() error {
	c.cache.Stop()
	return nil
}

func (c *TokenCache) Get(_ context.Context, key string) (bc.TokenState, bool, error) {
	item := c.cache.Get(key)
	if item == nil {
		return bc.TokenState{}, false, nil
	}
	state := item.Value()
	if state.NeedsRefresh(c.clock.Now()) {
		c.cache.Delete(key)
		return bc.TokenState{}, false, nil
	}
	return state, true, nil
}

// Put caches state until it expires. An already expired state is not cached.
func (c *TokenCache) Put(_ context.Context, key string, state bc.TokenState) error {
	ttl := state.ExpiresAt().Sub(c.clock.Now())
	if state.NeedsRefresh(c.clock.Now()) || ttl <= 0 {
		c.cache.Delete(key)
		return nil
	}
	c.cache.Set(key, state, ttl)
	return nil
}

func (c *TokenCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Len returns the number of cached entries, expired ones included until swept.
func (c *TokenCache) Len() int {
	return c.cache.Len()
}

var _ bc.AccessTokenCache = (*TokenCache)(nil)
