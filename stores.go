package boxconn

import (
	"context"
	"errors"
)

// ErrStateNotFound is returned by StateStore.Load when nothing is stored under a key.
var ErrStateNotFound = errors.New("connection state not found")

// StateStore persists saved connection state strings (the output of
// Connection.Save) so a process restart can reuse a still-valid token.
type StateStore interface {
	// Load returns the state stored under key, or ErrStateNotFound.
	Load(ctx context.Context, key string) (string, error)

	// Store saves state under key, replacing any previous value.
	Store(ctx context.Context, key string, state string) error

	// Remove deletes the state under key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists all keys with stored state.
	Keys(ctx context.Context) ([]string, error)
}

// AccessTokenCache shares minted access tokens between connections that
// authenticate as the same subject (JWT and client-credentials grants), so that
// each new connection does not have to hit the token endpoint.
type AccessTokenCache interface {
	// Get returns the cached state for key. ok is false on a miss.
	Get(ctx context.Context, key string) (state TokenState, ok bool, err error)

	// Put caches state under key until its expiry.
	Put(ctx context.Context, key string, state TokenState) error

	// Delete drops key from the cache.
	Delete(ctx context.Context, key string) error
}
