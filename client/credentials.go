package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	bc "github.com/panyam/boxconn"
)

// Exchanger mints a new TokenState from the current one. Each grant type the
// connection supports is one Exchanger; they all talk to the token endpoint
// through the TokenEndpoint handed to them.
type Exchanger interface {
	// Grant names the strategy for logs and metrics.
	Grant() string

	// CanRefresh reports whether Exchange has a chance of succeeding from current.
	CanRefresh(current bc.TokenState) bool

	// Exchange returns the replacement state. Rejections by the server are
	// *AuthenticationError; exhausted retries are *TransientRequestError.
	Exchange(ctx context.Context, ep *TokenEndpoint, current bc.TokenState) (bc.TokenState, error)
}

// cacheKeyer is implemented by grants whose tokens can be shared between
// connections authenticating as the same subject.
type cacheKeyer interface {
	CacheKey() string
}

// TokenResponse is the token endpoint's JSON reply
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
	RestrictedTo    []any  `json:"restricted_to,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorDesc       string `json:"error_description,omitempty"`
}

// TokenEndpoint posts grant forms on behalf of a connection. It reuses the
// connection's transport, interceptor, clock and retry budget.
type TokenEndpoint struct {
	conn *Connection
}

// URL is the token endpoint URL.
func (e *TokenEndpoint) URL() string {
	return e.conn.cfg.TokenURL
}

// Now reads the connection clock.
func (e *TokenEndpoint) Now() time.Time {
	return e.conn.clock.Now()
}

// Logger returns the connection logger.
func (e *TokenEndpoint) Logger() *zerolog.Logger {
	return &e.conn.logger
}

// Post sends form to the token endpoint. 429/5xx and network timeouts are
// retried; any other response is returned as is.
func (e *TokenEndpoint) Post(ctx context.Context, form url.Values) (*Response, error) {
	return e.conn.postForm(ctx, e.URL(), form)
}

// Token posts form and decodes a successful token response. Non-2xx
// responses become *AuthenticationError.
func (e *TokenEndpoint) Token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	resp, err := e.Post(ctx, form)
	if err != nil {
		return nil, err
	}
	return decodeTokenResponse(resp)
}

func decodeTokenResponse(resp *Response) (*TokenResponse, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &bc.AuthenticationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var tr TokenResponse
	if err := resp.DecodeJSON(&tr); err != nil {
		return nil, &bc.AuthenticationError{StatusCode: resp.StatusCode, Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &bc.AuthenticationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("token response has no access_token"),
		}
	}
	return &tr, nil
}

// RefreshGrant trades the refresh token for a new token pair
// (grant_type=refresh_token).
type RefreshGrant struct {
	Credentials bc.ClientCredentials
}

func (g *RefreshGrant) Grant() string { return "refresh_token" }

func (g *RefreshGrant) CanRefresh(current bc.TokenState) bool {
	return current.HasRefreshToken()
}

func (g *RefreshGrant) Exchange(ctx context.Context, ep *TokenEndpoint, current bc.TokenState) (bc.TokenState, error) {
	if !current.HasRefreshToken() {
		return current, &bc.AuthenticationError{Err: bc.ErrCannotRefresh}
	}
	tr, err := ep.Token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {current.RefreshToken},
		"client_id":     {g.Credentials.ClientID},
		"client_secret": {g.Credentials.ClientSecret},
	})
	if err != nil {
		return current, err
	}

	// Use new refresh token if provided, otherwise keep the old one
	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = current.RefreshToken
	}
	return bc.NewTokenState(tr.AccessToken, refresh, tr.ExpiresIn, ep.Now()), nil
}

// SubjectType selects who a client-credentials or JWT token acts as.
type SubjectType string

const (
	SubjectEnterprise SubjectType = "enterprise"
	SubjectUser       SubjectType = "user"
)

func (s SubjectType) valid() bool {
	return s == SubjectEnterprise || s == SubjectUser
}

// ClientCredentialsGrant authenticates with the app's own credentials as an
// enterprise service account or a user (grant_type=client_credentials).
type ClientCredentialsGrant struct {
	Credentials bc.ClientCredentials
	SubjectType SubjectType
	SubjectID   string
}

// Validate checks the subject.
func (g *ClientCredentialsGrant) Validate() error {
	if !g.SubjectType.valid() {
		return &bc.ConfigurationError{Field: "box_subject_type", Reason: fmt.Sprintf("unsupported subject type %q", g.SubjectType)}
	}
	if g.SubjectID == "" {
		return &bc.ConfigurationError{Field: "box_subject_id", Reason: "required"}
	}
	return nil
}

func (g *ClientCredentialsGrant) Grant() string { return "client_credentials" }

func (g *ClientCredentialsGrant) CanRefresh(bc.TokenState) bool { return true }

func (g *ClientCredentialsGrant) CacheKey() string {
	return CacheKey(g.Credentials.ClientID, g.SubjectType, g.SubjectID)
}

func (g *ClientCredentialsGrant) Exchange(ctx context.Context, ep *TokenEndpoint, current bc.TokenState) (bc.TokenState, error) {
	tr, err := ep.Token(ctx, url.Values{
		"grant_type":       {"client_credentials"},
		"client_id":        {g.Credentials.ClientID},
		"client_secret":    {g.Credentials.ClientSecret},
		"box_subject_type": {string(g.SubjectType)},
		"box_subject_id":   {g.SubjectID},
	})
	if err != nil {
		return current, err
	}
	return bc.NewTokenState(tr.AccessToken, "", tr.ExpiresIn, ep.Now()), nil
}

// CacheKey is the AccessTokenCache key for tokens minted for a subject.
func CacheKey(clientID string, subjectType SubjectType, subjectID string) string {
	return "boxconn:" + clientID + ":" + string(subjectType) + ":" + subjectID
}

// CachingExchanger consults a shared AccessTokenCache before delegating to
// Exchanger, and stores what Exchanger mints.
type CachingExchanger struct {
	Exchanger
	Cache bc.AccessTokenCache
	Key   string
}

func (e *CachingExchanger) Exchange(ctx context.Context, ep *TokenEndpoint, current bc.TokenState) (bc.TokenState, error) {
	cached, ok, err := e.Cache.Get(ctx, e.Key)
	if err != nil {
		ep.Logger().Warn().Err(err).Str("key", e.Key).Msg("access token cache lookup failed")
	}
	// A cached token equal to the one being replaced was rejected by the
	// server, so it is not reused.
	if ok && cached.AccessToken != current.AccessToken && !cached.NeedsRefresh(ep.Now()) {
		return cached, nil
	}

	next, err := e.Exchanger.Exchange(ctx, ep, current)
	if err != nil {
		return next, err
	}
	if err := e.Cache.Put(ctx, e.Key, next); err != nil {
		ep.Logger().Warn().Err(err).Str("key", e.Key).Msg("failed to cache access token")
	}
	return next, nil
}

// Invalidate drops the cached token, e.g. after it was revoked.
func (e *CachingExchanger) Invalidate(ctx context.Context) error {
	return e.Cache.Delete(ctx, e.Key)
}
