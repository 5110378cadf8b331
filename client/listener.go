package client

import (
	"context"

	bc "github.com/panyam/boxconn"
)

// Listener is notified after the connection's tokens change or a refresh fails.
// Callbacks run synchronously on the goroutine that performed the exchange,
// after the new state is visible.
type Listener interface {
	OnRefresh(ctx context.Context, c *Connection, state bc.TokenState)
	OnError(ctx context.Context, c *Connection, err error)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Refresh func(ctx context.Context, c *Connection, state bc.TokenState)
	Error   func(ctx context.Context, c *Connection, err error)
}

func (l ListenerFuncs) OnRefresh(ctx context.Context, c *Connection, state bc.TokenState) {
	if l.Refresh != nil {
		l.Refresh(ctx, c, state)
	}
}

func (l ListenerFuncs) OnError(ctx context.Context, c *Connection, err error) {
	if l.Error != nil {
		l.Error(ctx, c, err)
	}
}

// AddListener registers l for refresh and error notifications.
func (c *Connection) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Connection) snapshotListeners() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Listener(nil), c.listeners...)
}

func (c *Connection) notifyRefresh(ctx context.Context, st bc.TokenState) {
	for _, l := range c.snapshotListeners() {
		l.OnRefresh(ctx, c, st)
	}
}

func (c *Connection) notifyError(ctx context.Context, err error) {
	for _, l := range c.snapshotListeners() {
		l.OnError(ctx, c, err)
	}
}

// PersistTo returns a Listener that writes Save output to store under key
// after every refresh, so a restart can Restore the latest tokens.
func PersistTo(store bc.StateStore, key string) Listener {
	return ListenerFuncs{
		Refresh: func(ctx context.Context, c *Connection, _ bc.TokenState) {
			saved, err := c.Save()
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to save connection state")
				return
			}
			if err := store.Store(context.WithoutCancel(ctx), key, saved); err != nil {
				c.logger.Error().Err(err).Str("key", key).Msg("failed to persist connection state")
			}
		},
	}
}

// RestoreFrom loads the state saved under key and restores a connection from
// it. It returns bc.ErrStateNotFound (unwrapped) when nothing was saved.
func RestoreFrom(ctx context.Context, store bc.StateStore, key string, creds bc.ClientCredentials, opts ...Option) (*Connection, error) {
	saved, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	c, err := Restore(creds, saved, opts...)
	if err != nil {
		return nil, err
	}
	c.AddListener(PersistTo(store, key))
	return c, nil
}
