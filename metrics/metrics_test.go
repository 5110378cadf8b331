package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/client"
	"github.com/panyam/boxconn/internal/boxtest"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	assert.NotNil(t, provider.MeterProvider())
	assert.NotNil(t, provider.Handler())
	assert.NoError(t, provider.Shutdown(context.Background()))

	assert.NoError(t, (&Provider{}).Shutdown(context.Background()))
}

func TestRecorder(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	rec, err := NewRecorder(provider.MeterProvider(), "boxconn")
	require.NoError(t, err)

	ctx := context.Background()
	rec.RecordRequest(ctx, http.MethodGet, 200, 1, 20*time.Millisecond)
	rec.RecordRequest(ctx, http.MethodGet, 0, 3, time.Second)
	rec.RecordRefresh(ctx, "refresh_token", nil, 50*time.Millisecond)
	rec.RecordRefresh(ctx, "jwt", errors.New("rejected"), 10*time.Millisecond)

	out := scrape(t, provider)
	assert.Contains(t, out, "boxconn_requests_total")
	assert.Contains(t, out, `status="200"`)
	assert.Contains(t, out, `status="error"`)
	assert.Contains(t, out, "boxconn_request_duration_seconds")
	assert.Contains(t, out, "boxconn_request_attempts")
	assert.Contains(t, out, "boxconn_token_refreshes_total")
	assert.Contains(t, out, `grant="jwt"`)
}

func TestRecorder_WiredIntoConnection(t *testing.T) {
	provider, err := NewProvider()
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())
	rec, err := NewRecorder(provider.MeterProvider(), "boxconn")
	require.NoError(t, err)

	srv := boxtest.New(t)
	access, refresh := srv.IssueTokens()
	c, err := client.New(srv.Credentials(), bc.TokenState{
		AccessToken:  access,
		RefreshToken: refresh,
		LastRefresh:  time.Now().Add(-2 * time.Hour),
		TTL:          time.Hour,
	}, client.WithConfig(srv.Config()), client.WithMetrics(rec))
	require.NoError(t, err)

	_, err = c.Send(context.Background(), client.NewRequest(http.MethodGet, c.URL("users/me")))
	require.NoError(t, err)

	out := scrape(t, provider)
	assert.Contains(t, out, `grant="refresh_token"`)
	assert.Contains(t, out, `method="GET"`)
}
