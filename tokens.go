package boxconn

import (
	"time"
)

// TokenState is a snapshot of a connection's OAuth2 tokens.
//
// ExpiresAt is never stored; it is always LastRefresh + TTL. A state with a zero
// LastRefresh or a non-positive TTL always needs a refresh.
type TokenState struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	LastRefresh  time.Time     `json:"last_refresh"`
	TTL          time.Duration `json:"ttl"`
}

// NewTokenState builds a state issued at now that lives for expiresIn seconds,
// as reported by a token endpoint.
func NewTokenState(accessToken, refreshToken string, expiresIn int64, now time.Time) TokenState {
	return TokenState{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		LastRefresh:  now,
		TTL:          time.Duration(expiresIn) * time.Second,
	}
}

// ExpiresAt returns the instant the access token stops being valid, or the
// zero time if the token was never refreshed.
func (t TokenState) ExpiresAt() time.Time {
	if t.LastRefresh.IsZero() {
		return time.Time{}
	}
	return t.LastRefresh.Add(t.TTL)
}

// NeedsRefresh reports whether now >= ExpiresAt.
func (t TokenState) NeedsRefresh(now time.Time) bool {
	if t.LastRefresh.IsZero() || t.TTL <= 0 || t.AccessToken == "" {
		return true
	}
	return !now.Before(t.ExpiresAt())
}

// HasRefreshToken returns true if a refresh token is available
func (t TokenState) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// IsZero reports whether no token was ever set.
func (t TokenState) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && t.LastRefresh.IsZero()
}
