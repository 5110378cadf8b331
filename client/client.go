// Package client implements the Box connection: token lifecycle, credential
// exchange, request execution with retry, and saved-state round-tripping.
package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	bc "github.com/panyam/boxconn"
)

// Headers the connection manages on every API request
const (
	HeaderAsUser           = "As-User"
	HeaderBoxNotifications = "Box-Notifications"
)

// MetricsRecorder receives request and refresh outcomes. See the metrics
// package for the OpenTelemetry implementation.
type MetricsRecorder interface {
	RecordRequest(ctx context.Context, method string, statusCode, attempts int, duration time.Duration)
	RecordRefresh(ctx context.Context, grant string, err error, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(context.Context, string, int, int, time.Duration) {}
func (noopMetrics) RecordRefresh(context.Context, string, error, time.Duration)    {}

// Connection owns one TokenState and everything needed to keep it valid and
// to send authenticated requests with it. It is safe for concurrent use.
type Connection struct {
	mu          sync.RWMutex
	creds       bc.ClientCredentials
	cfg         bc.Config
	state       bc.TokenState
	revoked     bool
	autoRefresh bool

	exchanger         Exchanger
	exchangerOverride Exchanger
	refreshGroup      singleflight.Group
	endpoint          *TokenEndpoint
	tokenCache        bc.AccessTokenCache

	customHeaders         map[string]string
	asUserID              string
	suppressNotifications bool

	maxRetryAttempts int
	connectTimeout   time.Duration
	readTimeout      time.Duration
	httpClient       *http.Client
	customHTTP       bool

	interceptor Interceptor
	limiter     *rate.Limiter
	clock       clockwork.Clock
	logger      zerolog.Logger
	metrics     MetricsRecorder
	listeners   []Listener
}

func newConnection(creds bc.ClientCredentials, opts []Option) *Connection {
	c := &Connection{
		creds:         creds,
		cfg:           bc.DefaultConfig(),
		autoRefresh:   true,
		customHeaders: make(map[string]string),
		clock:         clockwork.NewRealClock(),
		logger:        zerolog.Nop(),
		metrics:       noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fillConfigDefaults()
	c.maxRetryAttempts = c.cfg.MaxRetryAttempts
	c.connectTimeout = c.cfg.ConnectTimeout
	c.readTimeout = c.cfg.ReadTimeout
	c.rebuildHTTPClientLocked()
	c.endpoint = &TokenEndpoint{conn: c}
	return c
}

// fillConfigDefaults patches zero fields of a caller-supplied Config.
func (c *Connection) fillConfigDefaults() {
	d := bc.DefaultConfig()
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = d.BaseURL
	}
	if c.cfg.BaseUploadURL == "" {
		c.cfg.BaseUploadURL = d.BaseUploadURL
	}
	if c.cfg.TokenURL == "" {
		c.cfg.TokenURL = d.TokenURL
	}
	if c.cfg.RevokeURL == "" {
		c.cfg.RevokeURL = d.RevokeURL
	}
	if c.cfg.AuthorizationURL == "" {
		c.cfg.AuthorizationURL = d.AuthorizationURL
	}
	if c.cfg.UserAgent == "" {
		c.cfg.UserAgent = d.UserAgent
	}
	if c.cfg.MaxRetryAttempts < 0 {
		c.cfg.MaxRetryAttempts = 0
	}
	if c.cfg.RetryBaseDelay <= 0 {
		c.cfg.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.cfg.RetryMaxDelay <= 0 {
		c.cfg.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.cfg.DeveloperTokenTTL <= 0 {
		c.cfg.DeveloperTokenTTL = d.DeveloperTokenTTL
	}
}

// setExchanger installs the constructor's strategy unless WithExchanger
// overrode it, wrapping it with the shared access-token cache if one is set.
func (c *Connection) setExchanger(e Exchanger) {
	if c.exchangerOverride != nil {
		e = c.exchangerOverride
	}
	if c.tokenCache != nil {
		if k, ok := e.(cacheKeyer); ok {
			e = &CachingExchanger{Exchanger: e, Cache: c.tokenCache, Key: k.CacheKey()}
		}
	}
	c.exchanger = e
}

// New creates a connection for a user who authorized the app through OAuth2.
// tokens may be empty, in which case Authenticate must be called with an
// authorization code before the connection can be used.
func New(creds bc.ClientCredentials, tokens bc.TokenState, opts ...Option) (*Connection, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	// Tokens handed over without LastRefresh count as stale, so the first use
	// refreshes them.
	c := newConnection(creds, opts)
	c.state = tokens
	c.setExchanger(&RefreshGrant{Credentials: creds})
	return c, nil
}

// NewWithAccessToken wraps a developer token. It is trusted for
// Config.DeveloperTokenTTL and can never be refreshed.
func NewWithAccessToken(accessToken string, opts ...Option) (*Connection, error) {
	if accessToken == "" {
		return nil, &bc.ConfigurationError{Field: "access_token", Reason: "required"}
	}
	c := newConnection(bc.ClientCredentials{}, opts)
	c.state = bc.TokenState{
		AccessToken: accessToken,
		LastRefresh: c.clock.Now(),
		TTL:         c.cfg.DeveloperTokenTTL,
	}
	c.autoRefresh = false
	c.setExchanger(nil)
	return c, nil
}

// NewJWT creates a service-account or app-user connection that mints tokens
// from a signed JWT assertion. No token request is made until first use.
func NewJWT(creds bc.ClientCredentials, jwtCfg JWTConfig, opts ...Option) (*Connection, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := jwtCfg.Validate(); err != nil {
		return nil, err
	}
	c := newConnection(creds, opts)
	c.setExchanger(&JWTGrant{Credentials: creds, Config: jwtCfg})
	return c, nil
}

// NewClientCredentials creates a connection that authenticates with the
// client-credentials grant as an enterprise or a user.
func NewClientCredentials(creds bc.ClientCredentials, subjectType SubjectType, subjectID string, opts ...Option) (*Connection, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	g := &ClientCredentialsGrant{Credentials: creds, SubjectType: subjectType, SubjectID: subjectID}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	c := newConnection(creds, opts)
	c.setExchanger(g)
	return c, nil
}

// Clone returns an independent connection with a copy of this connection's
// tokens, headers and settings. The two never share refreshes afterwards.
func (c *Connection) Clone() *Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := &Connection{
		creds:                 c.creds,
		cfg:                   c.cfg,
		state:                 c.state,
		revoked:               c.revoked,
		autoRefresh:           c.autoRefresh,
		exchanger:             c.exchanger,
		tokenCache:            c.tokenCache,
		customHeaders:         make(map[string]string, len(c.customHeaders)),
		asUserID:              c.asUserID,
		suppressNotifications: c.suppressNotifications,
		maxRetryAttempts:      c.maxRetryAttempts,
		connectTimeout:        c.connectTimeout,
		readTimeout:           c.readTimeout,
		httpClient:            c.httpClient,
		customHTTP:            c.customHTTP,
		interceptor:           c.interceptor,
		limiter:               c.limiter,
		clock:                 c.clock,
		logger:                c.logger,
		metrics:               c.metrics,
	}
	for k, v := range c.customHeaders {
		n.customHeaders[k] = v
	}
	n.endpoint = &TokenEndpoint{conn: n}
	return n
}

// GetAccessToken returns a valid access token, refreshing it first if it has
// expired. Concurrent callers that see the same expired token share a single
// exchange. A valid token is returned without any network call.
func (c *Connection) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	st, revoked, auto := c.state, c.revoked, c.autoRefresh
	c.mu.RUnlock()

	if revoked {
		return "", &bc.AuthenticationError{Err: bc.ErrTokenRevoked}
	}
	if !st.NeedsRefresh(c.clock.Now()) {
		return st.AccessToken, nil
	}
	if !auto {
		if st.AccessToken == "" {
			return "", &bc.AuthenticationError{Err: bc.ErrCannotRefresh}
		}
		// auto refresh is off: hand out the stale token and let the server decide
		return st.AccessToken, nil
	}

	st, err := c.refresh(ctx, st.AccessToken, false)
	if err != nil {
		return "", err
	}
	return st.AccessToken, nil
}

// NeedsRefresh reports whether the current access token has expired.
func (c *Connection) NeedsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.NeedsRefresh(c.clock.Now())
}

// Refresh exchanges credentials for a new token unconditionally. If another
// refresh is already in flight, the caller waits for and shares its result.
func (c *Connection) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, "", true)
	return err
}

// RefreshRejected handles a token the server rejected with 401 (or an
// Unauthenticated RPC status). It exchanges only if rejected is still the
// current token; if another caller already replaced it, it returns at once.
func (c *Connection) RefreshRejected(ctx context.Context, rejected string) error {
	_, err := c.refresh(ctx, rejected, false)
	return err
}

// refreshResult is what one coalesced refresh hands to everyone waiting on it.
type refreshResult struct {
	state     bc.TokenState
	exchanged bool
}

// refresh coalesces concurrent exchanges into one. Unless force is set, the
// exchange is skipped when the state was already replaced since the caller saw
// the token seen and the replacement is still valid. A forced caller that
// joined such a skipped flight starts another one.
func (c *Connection) refresh(ctx context.Context, seen string, force bool) (bc.TokenState, error) {
	for {
		v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
			c.mu.RLock()
			cur := c.state
			c.mu.RUnlock()

			if !force && cur.AccessToken != seen && !cur.NeedsRefresh(c.clock.Now()) {
				return refreshResult{state: cur}, nil
			}
			next, err := c.exchange(ctx, cur)
			return refreshResult{state: next, exchanged: err == nil}, err
		})
		if err != nil {
			return bc.TokenState{}, err
		}
		res := v.(refreshResult)
		if shared {
			c.logger.Debug().Bool("exchanged", res.exchanged).Msg("joined in-flight token refresh")
		}
		if force && !res.exchanged {
			continue
		}
		return res.state, nil
	}
}

func (c *Connection) exchange(ctx context.Context, cur bc.TokenState) (bc.TokenState, error) {
	c.mu.RLock()
	ex := c.exchanger
	c.mu.RUnlock()

	if ex == nil || !ex.CanRefresh(cur) {
		err := &bc.AuthenticationError{Err: bc.ErrCannotRefresh}
		c.notifyError(ctx, err)
		return cur, err
	}

	start := c.clock.Now()
	c.logger.Debug().Str("grant", ex.Grant()).Msg("exchanging credentials for a new access token")
	next, err := ex.Exchange(ctx, c.endpoint, cur)
	c.metrics.RecordRefresh(ctx, ex.Grant(), err, c.clock.Since(start))
	if err != nil {
		c.logger.Warn().Err(err).Str("grant", ex.Grant()).Msg("token refresh failed")
		c.notifyError(ctx, err)
		return cur, err
	}

	c.mu.Lock()
	c.state = next
	c.revoked = false
	c.mu.Unlock()

	c.logger.Info().
		Str("grant", ex.Grant()).
		Str("token", maskToken(next.AccessToken)).
		Time("expires_at", next.ExpiresAt()).
		Msg("access token refreshed")
	c.notifyRefresh(ctx, next)
	return next, nil
}

// State returns a snapshot of the current tokens.
func (c *Connection) State() bc.TokenState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetTokens replaces the tokens wholesale, e.g. after an out-of-band
// authorization. It clears a previous revocation.
func (c *Connection) SetTokens(st bc.TokenState) {
	c.mu.Lock()
	c.state = st
	c.revoked = false
	c.mu.Unlock()
}

// CanRefresh reports whether the connection is able to mint a new token.
func (c *Connection) CanRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exchanger != nil && c.exchanger.CanRefresh(c.state)
}

// AutoRefresh reports whether expired tokens are refreshed on access.
func (c *Connection) AutoRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoRefresh
}

// SetAutoRefresh toggles refresh-on-access.
func (c *Connection) SetAutoRefresh(on bool) {
	c.mu.Lock()
	c.autoRefresh = on
	c.mu.Unlock()
}

// Config returns the defaults this connection was built from.
func (c *Connection) Config() bc.Config {
	return c.cfg
}

// URL resolves path against the API base URL.
func (c *Connection) URL(path string) string {
	return joinURL(c.cfg.BaseURL, path)
}

// UploadURL resolves path against the upload base URL.
func (c *Connection) UploadURL(path string) string {
	return joinURL(c.cfg.BaseUploadURL, path)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// AsUser makes every following request act on behalf of userID.
func (c *Connection) AsUser(userID string) {
	c.mu.Lock()
	c.asUserID = userID
	c.mu.Unlock()
}

// AsUserID returns the user set by AsUser, or "".
func (c *Connection) AsUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asUserID
}

// AsSelf stops acting on behalf of another user.
func (c *Connection) AsSelf() {
	c.AsUser("")
}

// SetCustomHeader adds a header to every following request.
func (c *Connection) SetCustomHeader(name, value string) {
	c.mu.Lock()
	c.customHeaders[http.CanonicalHeaderKey(name)] = value
	c.mu.Unlock()
}

// RemoveCustomHeader drops a header added with SetCustomHeader.
func (c *Connection) RemoveCustomHeader(name string) {
	c.mu.Lock()
	delete(c.customHeaders, http.CanonicalHeaderKey(name))
	c.mu.Unlock()
}

// SuppressNotifications asks Box not to send email notifications for the
// changes made by following requests.
func (c *Connection) SuppressNotifications() {
	c.mu.Lock()
	c.suppressNotifications = true
	c.mu.Unlock()
}

// EnableNotifications undoes SuppressNotifications.
func (c *Connection) EnableNotifications() {
	c.mu.Lock()
	c.suppressNotifications = false
	c.mu.Unlock()
}

// MaxRetryAttempts returns the retry budget for 429/5xx responses and timeouts.
func (c *Connection) MaxRetryAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRetryAttempts
}

// SetMaxRetryAttempts overrides Config.MaxRetryAttempts for this connection.
func (c *Connection) SetMaxRetryAttempts(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	c.maxRetryAttempts = n
	c.mu.Unlock()
}

// ConnectTimeout returns the dial timeout.
func (c *Connection) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

// SetConnectTimeout overrides Config.ConnectTimeout for this connection.
func (c *Connection) SetConnectTimeout(d time.Duration) {
	c.mu.Lock()
	c.connectTimeout = d
	c.rebuildHTTPClientLocked()
	c.mu.Unlock()
}

// ReadTimeout returns how long to wait for response headers.
func (c *Connection) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// SetReadTimeout overrides Config.ReadTimeout for this connection.
func (c *Connection) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.rebuildHTTPClientLocked()
	c.mu.Unlock()
}

// rebuildHTTPClientLocked applies the timeouts to a fresh transport.
// Caller must hold c.mu (or be the constructor).
func (c *Connection) rebuildHTTPClientLocked() {
	if c.customHTTP {
		return
	}
	dialer := &net.Dialer{Timeout: c.connectTimeout, KeepAlive: 30 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	tr.ResponseHeaderTimeout = c.readTimeout
	c.httpClient = &http.Client{Transport: tr}
}

// Authenticate exchanges an OAuth2 authorization code for tokens.
func (c *Connection) Authenticate(ctx context.Context, code string) error {
	if code == "" {
		return &bc.ConfigurationError{Field: "code", Reason: "required"}
	}
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
	}
	tr, err := c.endpoint.Token(ctx, form)
	if err != nil {
		c.notifyError(ctx, err)
		return err
	}
	st := bc.NewTokenState(tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, c.clock.Now())
	c.SetTokens(st)
	c.logger.Info().Str("token", maskToken(st.AccessToken)).Msg("authorization code exchanged")
	c.notifyRefresh(ctx, st)
	return nil
}

// RevokeToken revokes the current tokens at Box and clears them locally.
// The connection then refuses to hand out tokens until new ones are set,
// Authenticate succeeds or an explicit Refresh re-authenticates.
func (c *Connection) RevokeToken(ctx context.Context) error {
	c.mu.RLock()
	st := c.state
	ex := c.exchanger
	c.mu.RUnlock()

	token := st.AccessToken
	if token == "" {
		token = st.RefreshToken
	}
	if token != "" {
		form := url.Values{
			"token":         {token},
			"client_id":     {c.creds.ClientID},
			"client_secret": {c.creds.ClientSecret},
		}
		resp, err := c.postForm(ctx, c.cfg.RevokeURL, form)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &bc.AuthenticationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		}
	}

	if inv, ok := ex.(interface{ Invalidate(context.Context) error }); ok {
		if err := inv.Invalidate(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("failed to drop cached access token")
		}
	}

	c.mu.Lock()
	c.state = bc.TokenState{}
	c.revoked = true
	c.mu.Unlock()
	c.logger.Info().Msg("tokens revoked")
	return nil
}

// Revoked reports whether RevokeToken succeeded and no new tokens were set since.
func (c *Connection) Revoked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revoked
}

// maskToken shows only the first few characters of a token in logs.
func maskToken(token string) string {
	if len(token) <= 6 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-2:]
}

var errNilRequest = errors.New("nil request")
