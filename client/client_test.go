package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "github.com/panyam/boxconn"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestConnection builds a refresh-grant connection on a fake clock whose
// token endpoint is answered by rec.
func newTestConnection(t *testing.T, st bc.TokenState, rec *recorder, opts ...Option) (*Connection, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cfg := bc.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	base := []Option{WithConfig(cfg), WithClock(clock), WithInterceptor(rec)}
	c, err := New(testCreds, st, append(base, opts...)...)
	require.NoError(t, err)
	return c, clock
}

// newRealClockConnection is for tests that let the retry backoff actually sleep
// (a few milliseconds with the test config).
func newRealClockConnection(t *testing.T, ic Interceptor) *Connection {
	t.Helper()
	cfg := bc.DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	c, err := New(testCreds, validState(time.Now()), WithConfig(cfg), WithInterceptor(ic))
	require.NoError(t, err)
	return c
}

func validState(now time.Time) bc.TokenState {
	return bc.TokenState{AccessToken: "access-1", RefreshToken: "refresh-1", LastRefresh: now, TTL: time.Hour}
}

func TestNew_ValidatesCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds bc.ClientCredentials
		field string
	}{
		{name: "missing id", creds: bc.ClientCredentials{ClientSecret: "s"}, field: "client_id"},
		{name: "missing secret", creds: bc.ClientCredentials{ClientID: "id"}, field: "client_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.creds, bc.TokenState{})
			var cfgErr *bc.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("New() error = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %v, want %v", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestConnection_GetAccessToken_ValidTokenMakesNoRequests(t *testing.T) {
	rec := newRecorder()
	c, _ := newTestConnection(t, validState(epoch), rec)

	for i := 0; i < 3; i++ {
		token, err := c.GetAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", token)
	}
	assert.Zero(t, rec.calls())
}

func TestConnection_NeedsRefresh(t *testing.T) {
	tests := []struct {
		name    string
		state   bc.TokenState
		advance time.Duration
		want    bool
	}{
		{name: "fresh", state: validState(epoch), want: false},
		{name: "one second before expiry", state: validState(epoch), advance: time.Hour - time.Second, want: false},
		{name: "at expiry", state: validState(epoch), advance: time.Hour, want: true},
		{name: "never refreshed", state: bc.TokenState{AccessToken: "a", RefreshToken: "r"}, want: true},
		{name: "no access token", state: bc.TokenState{RefreshToken: "r", LastRefresh: epoch, TTL: time.Hour}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock := newTestConnection(t, tt.state, newRecorder())
			clock.Advance(tt.advance)
			if got := c.NeedsRefresh(); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnection_GetAccessToken_RefreshesExpiredToken(t *testing.T) {
	rec := newRecorder().on("/oauth2/token", func(int) *Response {
		// no refresh_token in the reply: the old one must be kept
		return tokenJSON("access-2", "", 3600)
	})
	c, clock := newTestConnection(t, validState(epoch), rec)
	clock.Advance(2 * time.Hour)

	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)

	st := c.State()
	assert.Equal(t, "refresh-1", st.RefreshToken)
	assert.Equal(t, clock.Now(), st.LastRefresh)
	assert.Equal(t, time.Hour, st.TTL)
	assert.Equal(t, 1, rec.count("/oauth2/token"))

	form := string(rec.last().Body)
	assert.Contains(t, form, "grant_type=refresh_token")
	assert.Contains(t, form, "refresh_token=refresh-1")
	assert.Contains(t, form, "client_id=fake+client+ID")
}

func TestConnection_ConcurrentCallersShareOneRefresh(t *testing.T) {
	rec := newRecorder().on("/oauth2/token", func(n int) *Response {
		time.Sleep(20 * time.Millisecond)
		return tokenJSON("access-2", "refresh-2", 3600)
	})
	c, clock := newTestConnection(t, validState(epoch), rec)
	clock.Advance(2 * time.Hour)

	const callers = 32
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.GetAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", tokens[i])
	}
	assert.Equal(t, 1, rec.count("/oauth2/token"))
}

func TestConnection_Refresh_IsUnconditional(t *testing.T) {
	rec := newRecorder().on("/oauth2/token", func(n int) *Response {
		return tokenJSON("access-2", "refresh-2", 3600)
	})
	c, _ := newTestConnection(t, validState(epoch), rec)

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 1, rec.count("/oauth2/token"))
	assert.Equal(t, "access-2", c.State().AccessToken)
}

func TestConnection_Refresh_DoesNotShareASkippedRefresh(t *testing.T) {
	rec := newRecorder().on("/oauth2/token", func(n int) *Response {
		return tokenJSON("access-2", "refresh-2", 3600)
	})
	c, _ := newTestConnection(t, validState(epoch), rec)

	// hold a refresh in flight that decides the current token is fine
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		c.refreshGroup.Do("refresh", func() (any, error) {
			close(held)
			<-release
			return refreshResult{state: c.State()}, nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, 1, rec.count("/oauth2/token"))
	assert.Equal(t, "access-2", c.State().AccessToken)
}

func TestConnection_RefreshRejected(t *testing.T) {
	rec := newRecorder().on("/oauth2/token", func(int) *Response {
		return &Response{StatusCode: http.StatusBadRequest, Body: []byte(`{"error":"invalid_grant"}`)}
	})

	var gotErr error
	c, clock := newTestConnection(t, validState(epoch), rec)
	c.AddListener(ListenerFuncs{Error: func(_ context.Context, _ *Connection, err error) { gotErr = err }})
	clock.Advance(2 * time.Hour)

	_, err := c.GetAccessToken(context.Background())
	var authErr *bc.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Equal(t, err, gotErr)
	// 4xx from the token endpoint is never retried
	assert.Equal(t, 1, rec.count("/oauth2/token"))
}

func TestConnection_WithoutRefreshTokenCannotRefresh(t *testing.T) {
	rec := newRecorder()
	c, clock := newTestConnection(t, bc.TokenState{AccessToken: "a", LastRefresh: epoch, TTL: time.Minute}, rec)
	clock.Advance(time.Hour)

	assert.False(t, c.CanRefresh())
	_, err := c.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, bc.ErrCannotRefresh)
	assert.Zero(t, rec.calls())
}

func TestConnection_AutoRefreshDisabled(t *testing.T) {
	rec := newRecorder()
	c, clock := newTestConnection(t, validState(epoch), rec)
	c.SetAutoRefresh(false)
	clock.Advance(2 * time.Hour)

	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, rec.calls())
	assert.False(t, c.AutoRefresh())
}

func TestNewWithAccessToken(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	rec := newRecorder()
	c, err := NewWithAccessToken("developer-token", WithClock(clock), WithInterceptor(rec))
	require.NoError(t, err)

	assert.False(t, c.CanRefresh())
	assert.Equal(t, epoch.Add(bc.DefaultConfig().DeveloperTokenTTL), c.State().ExpiresAt())

	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "developer-token", token)

	err = c.Refresh(context.Background())
	assert.ErrorIs(t, err, bc.ErrCannotRefresh)
	assert.Zero(t, rec.calls())

	_, err = NewWithAccessToken("")
	var cfgErr *bc.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConnection_SetTokensClearsRevocation(t *testing.T) {
	rec := newRecorder().on("/oauth2/revoke", func(int) *Response { return respond(http.StatusOK) })
	c, _ := newTestConnection(t, validState(epoch), rec)

	require.NoError(t, c.RevokeToken(context.Background()))
	assert.True(t, c.Revoked())
	_, err := c.GetAccessToken(context.Background())
	assert.ErrorIs(t, err, bc.ErrTokenRevoked)

	c.SetTokens(validState(epoch))
	assert.False(t, c.Revoked())
	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestConnection_RevokeSendsAccessTokenAndCredentials(t *testing.T) {
	rec := newRecorder().on("/oauth2/revoke", func(int) *Response { return respond(http.StatusOK) })
	c, _ := newTestConnection(t, validState(epoch), rec)

	require.NoError(t, c.RevokeToken(context.Background()))

	req := rec.last()
	assert.Equal(t, bc.DefaultRevokeURL, req.URL)
	assert.Equal(t, "client_id=fake+client+ID&client_secret=fake+client+secret&token=access-1", string(req.Body))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.True(t, c.State().IsZero())
}

func TestConnection_RetryAndTimeoutSettings(t *testing.T) {
	cfg := bc.DefaultConfig()
	cfg.MaxRetryAttempts = 3
	cfg.ConnectTimeout = 5 * time.Second
	cfg.ReadTimeout = 7 * time.Second

	a, err := New(testCreds, bc.TokenState{}, WithConfig(cfg))
	require.NoError(t, err)
	b, err := New(testCreds, bc.TokenState{}, WithConfig(cfg))
	require.NoError(t, err)

	assert.Equal(t, 3, a.MaxRetryAttempts())
	assert.Equal(t, 5*time.Second, a.ConnectTimeout())
	assert.Equal(t, 7*time.Second, a.ReadTimeout())

	a.SetMaxRetryAttempts(8)
	a.SetConnectTimeout(time.Second)
	a.SetReadTimeout(2 * time.Second)
	assert.Equal(t, 8, a.MaxRetryAttempts())
	assert.Equal(t, time.Second, a.ConnectTimeout())
	assert.Equal(t, 2*time.Second, a.ReadTimeout())

	// per-connection overrides do not leak
	assert.Equal(t, 3, b.MaxRetryAttempts())
	assert.Equal(t, 5*time.Second, b.ConnectTimeout())

	tr, ok := a.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, tr.ResponseHeaderTimeout)

	a.SetMaxRetryAttempts(-1)
	assert.Equal(t, 0, a.MaxRetryAttempts())
}

func TestConnection_CloneIsIndependent(t *testing.T) {
	c, _ := newTestConnection(t, validState(epoch), newRecorder())
	c.SetCustomHeader("X-Trace", "abc")

	d := c.Clone()
	d.AsUser("42")
	d.SetCustomHeader("X-Trace", "def")
	d.SetTokens(bc.TokenState{AccessToken: "other"})

	assert.Equal(t, "access-1", c.State().AccessToken)
	r := NewRequest(http.MethodGet, c.URL("users/me"))
	c.applyHeaders(r, "t")
	assert.Empty(t, r.Header.Get(HeaderAsUser))
	assert.Equal(t, "abc", r.Header.Get("X-Trace"))
}

func TestConnection_URL(t *testing.T) {
	c, _ := newTestConnection(t, validState(epoch), newRecorder())
	assert.Equal(t, "https://api.box.com/2.0/folders/0/items", c.URL("folders/0/items"))
	assert.Equal(t, "https://api.box.com/2.0/folders/0/items", c.URL("/folders/0/items"))
	assert.Equal(t, "https://upload.box.com/api/2.0/files/content", c.UploadURL("files/content"))
}

func TestConnection_TokenSource(t *testing.T) {
	c, _ := newTestConnection(t, validState(epoch), newRecorder())

	tok, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, epoch.Add(time.Hour), tok.Expiry)
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{token: "", want: ""},
		{token: "abc", want: "***"},
		{token: "abcdefghijkl", want: "abcd...kl"},
	}

	for _, tt := range tests {
		if got := maskToken(tt.token); got != tt.want {
			t.Errorf("maskToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}
