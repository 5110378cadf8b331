package client

import (
	"encoding/json"
	"fmt"
	"time"

	bc "github.com/panyam/boxconn"
)

// stateVersion is written by Save. States without a version field use the
// deprecated layout.
const stateVersion = 2

// savedState is the current saved-state layout. Times are epoch milliseconds
// and durations are milliseconds.
type savedState struct {
	Version          int    `json:"version"`
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	LastRefresh      int64  `json:"lastRefresh"`
	Expires          int64  `json:"expires"`
	UserAgent        string `json:"userAgent"`
	BaseURL          string `json:"baseURL"`
	BaseUploadURL    string `json:"baseUploadURL"`
	TokenURL         string `json:"tokenURL"`
	RevokeURL        string `json:"revokeURL"`
	AuthorizationURL string `json:"authorizationURL"`
	AutoRefresh      bool   `json:"autoRefresh"`
	MaxRetryAttempts int    `json:"maxRetryAttempts"`
	ConnectTimeout   int64  `json:"connectTimeout"`
	ReadTimeout      int64  `json:"readTimeout"`
}

// legacyState is the deprecated layout. It counts total attempts rather than
// retries, and may carry an absolute expiry instead of a lifetime.
type legacyState struct {
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	LastRefresh        int64  `json:"lastRefresh"`
	Expires            int64  `json:"expires"`
	ExpiresAt          int64  `json:"expiresAt"`
	UserAgent          string `json:"userAgent"`
	BaseURL            string `json:"baseURL"`
	BaseUploadURL      string `json:"baseUploadURL"`
	TokenURL           string `json:"tokenURL"`
	RevokeURL          string `json:"revokeURL"`
	AuthorizationURL   string `json:"authorizationURL"`
	AutoRefresh        *bool  `json:"autoRefresh"`
	MaxRequestAttempts *int   `json:"maxRequestAttempts"`
	ConnectTimeout     *int64 `json:"connectTimeout"`
	ReadTimeout        *int64 `json:"readTimeout"`
}

// Save serializes the tokens and connection settings into a string that
// Restore accepts. Credentials are never included.
func (c *Connection) Save() (string, error) {
	c.mu.RLock()
	s := savedState{
		Version:          stateVersion,
		AccessToken:      c.state.AccessToken,
		RefreshToken:     c.state.RefreshToken,
		LastRefresh:      toMillis(c.state.LastRefresh),
		Expires:          c.state.TTL.Milliseconds(),
		UserAgent:        c.cfg.UserAgent,
		BaseURL:          c.cfg.BaseURL,
		BaseUploadURL:    c.cfg.BaseUploadURL,
		TokenURL:         c.cfg.TokenURL,
		RevokeURL:        c.cfg.RevokeURL,
		AuthorizationURL: c.cfg.AuthorizationURL,
		AutoRefresh:      c.autoRefresh,
		MaxRetryAttempts: c.maxRetryAttempts,
		ConnectTimeout:   c.connectTimeout.Milliseconds(),
		ReadTimeout:      c.readTimeout.Milliseconds(),
	}
	c.mu.RUnlock()

	out, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return string(out), nil
}

// Restore rebuilds a refresh-token connection from Save output, in either the
// current or the deprecated layout. Restoring makes no network call; a
// still-valid token is used as is.
func Restore(creds bc.ClientCredentials, saved string, opts ...Option) (*Connection, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	s, err := decodeState(saved)
	if err != nil {
		return nil, err
	}

	c := newConnection(creds, opts)
	c.applyState(s)
	c.setExchanger(&RefreshGrant{Credentials: creds})
	return c, nil
}

// decodeState normalizes either layout into savedState, filling anything
// missing from the defaults.
func decodeState(saved string) (savedState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(saved), &fields); err != nil {
		return savedState{}, invalidState(err)
	}
	if fields == nil {
		return savedState{}, invalidState(fmt.Errorf("not a JSON object"))
	}
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal([]byte(saved), &probe); err != nil {
		return savedState{}, invalidState(err)
	}

	d := bc.DefaultConfig()
	var s savedState
	switch {
	case probe.Version == nil:
		var l legacyState
		if err := json.Unmarshal([]byte(saved), &l); err != nil {
			return savedState{}, invalidState(err)
		}
		s = l.upgrade(d)
	case *probe.Version == stateVersion:
		if err := json.Unmarshal([]byte(saved), &s); err != nil {
			return savedState{}, invalidState(err)
		}
	default:
		return savedState{}, invalidState(fmt.Errorf("unsupported version %d", *probe.Version))
	}

	if s.LastRefresh < 0 || s.Expires < 0 || s.MaxRetryAttempts < 0 {
		return savedState{}, invalidState(fmt.Errorf("negative time or retry value"))
	}
	fillStringDefault(&s.UserAgent, d.UserAgent)
	fillStringDefault(&s.BaseURL, d.BaseURL)
	fillStringDefault(&s.BaseUploadURL, d.BaseUploadURL)
	fillStringDefault(&s.TokenURL, d.TokenURL)
	fillStringDefault(&s.RevokeURL, d.RevokeURL)
	fillStringDefault(&s.AuthorizationURL, d.AuthorizationURL)
	s.Version = stateVersion
	return s, nil
}

func (l legacyState) upgrade(d bc.Config) savedState {
	s := savedState{
		AccessToken:      l.AccessToken,
		RefreshToken:     l.RefreshToken,
		LastRefresh:      l.LastRefresh,
		Expires:          l.Expires,
		UserAgent:        l.UserAgent,
		BaseURL:          l.BaseURL,
		BaseUploadURL:    l.BaseUploadURL,
		TokenURL:         l.TokenURL,
		RevokeURL:        l.RevokeURL,
		AuthorizationURL: l.AuthorizationURL,
		AutoRefresh:      true,
		MaxRetryAttempts: d.MaxRetryAttempts,
		ConnectTimeout:   d.ConnectTimeout.Milliseconds(),
		ReadTimeout:      d.ReadTimeout.Milliseconds(),
	}
	if s.Expires == 0 && l.ExpiresAt > l.LastRefresh {
		s.Expires = l.ExpiresAt - l.LastRefresh
	}
	if l.AutoRefresh != nil {
		s.AutoRefresh = *l.AutoRefresh
	}
	if l.MaxRequestAttempts != nil {
		// total attempts -> retries
		s.MaxRetryAttempts = max(*l.MaxRequestAttempts-1, 0)
	}
	if l.ConnectTimeout != nil {
		s.ConnectTimeout = *l.ConnectTimeout
	}
	if l.ReadTimeout != nil {
		s.ReadTimeout = *l.ReadTimeout
	}
	return s
}

func (c *Connection) applyState(s savedState) {
	c.state = bc.TokenState{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		LastRefresh:  fromMillis(s.LastRefresh),
		TTL:          time.Duration(s.Expires) * time.Millisecond,
	}
	c.cfg.UserAgent = s.UserAgent
	c.cfg.BaseURL = s.BaseURL
	c.cfg.BaseUploadURL = s.BaseUploadURL
	c.cfg.TokenURL = s.TokenURL
	c.cfg.RevokeURL = s.RevokeURL
	c.cfg.AuthorizationURL = s.AuthorizationURL
	c.autoRefresh = s.AutoRefresh
	c.maxRetryAttempts = s.MaxRetryAttempts
	c.connectTimeout = time.Duration(s.ConnectTimeout) * time.Millisecond
	c.readTimeout = time.Duration(s.ReadTimeout) * time.Millisecond
	c.rebuildHTTPClientLocked()
}

func invalidState(err error) error {
	return &bc.ConfigurationError{Field: "state", Err: fmt.Errorf("%w: %v", bc.ErrInvalidState, err)}
}

func fillStringDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
