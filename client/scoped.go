package client

import (
	"context"
	"net/url"

	bc "github.com/panyam/boxconn"
)

const (
	tokenExchangeGrant = "urn:ietf:params:oauth:grant-type:token-exchange"
	accessTokenType    = "urn:ietf:params:oauth:token-type:access_token"
)

// ScopedToken is a downscoped access token obtained by LowerScopedToken.
// It cannot be refreshed.
type ScopedToken struct {
	bc.TokenState
	Scopes       []string
	Resource     string
	RestrictedTo []any
}

// LowerScopedToken exchanges the current access token for one restricted to
// scopes and, if resource is set, to a single file, folder or shared link.
// The connection's own tokens are not touched.
func (c *Connection) LowerScopedToken(ctx context.Context, scopes []string, resource string) (*ScopedToken, error) {
	scope := bc.JoinScopes(scopes)
	if scope == "" {
		return nil, &bc.ConfigurationError{Field: "scope", Reason: "at least one scope is required"}
	}
	if resource != "" && bc.DetermineResourceLinkType(resource) == bc.ResourceLinkUnknown {
		return nil, &bc.ConfigurationError{Field: "resource", Reason: "must be an API endpoint URL or a shared link"}
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":         {tokenExchangeGrant},
		"subject_token":      {token},
		"subject_token_type": {accessTokenType},
		"scope":              {scope},
	}
	if resource != "" {
		form.Set("resource", resource)
	}
	tr, err := c.endpoint.Token(ctx, form)
	if err != nil {
		return nil, err
	}

	return &ScopedToken{
		TokenState:   bc.NewTokenState(tr.AccessToken, "", tr.ExpiresIn, c.clock.Now()),
		Scopes:       bc.ParseScopes(scope),
		Resource:     resource,
		RestrictedTo: tr.RestrictedTo,
	}, nil
}

// Connection wraps the downscoped token in its own connection, which never
// refreshes and keeps the parent's endpoints.
func (t *ScopedToken) Connection(parent *Connection, opts ...Option) *Connection {
	base := []Option{
		WithConfig(parent.cfg),
		WithClock(parent.clock),
		WithLogger(parent.logger),
		WithMetrics(parent.metrics),
		WithInterceptor(parent.interceptor),
	}
	if parent.customHTTP {
		base = append(base, WithHTTPClient(parent.httpClient))
	}
	c := newConnection(bc.ClientCredentials{}, append(base, opts...))
	c.state = t.TokenState
	c.autoRefresh = false
	c.setExchanger(nil)
	return c
}
