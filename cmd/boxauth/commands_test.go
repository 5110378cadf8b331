package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/internal/boxtest"
	"github.com/panyam/boxconn/stores/fs"
)

func newEnv(t *testing.T, srv *boxtest.Server) (*Env, *bytes.Buffer) {
	t.Helper()
	store, err := fs.NewStateStore(filepath.Join(t.TempDir(), "state.json"), fs.WithPassphrase("pw"))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return &Env{
		Config:  srv.Config(),
		Creds:   srv.Credentials(),
		Store:   store,
		Profile: "default",
		Logger:  zerolog.Nop(),
		Out:     out,
	}, out
}

func login(t *testing.T, srv *boxtest.Server, e *Env) {
	t.Helper()
	srv.AddAuthCode("code-1")
	require.NoError(t, RunLogin(context.Background(), e, "code-1"))
}

func TestRunAuthorizeURL(t *testing.T) {
	srv := boxtest.New(t)
	e, out := newEnv(t, srv)

	require.NoError(t, RunAuthorizeURL(context.Background(), e, "https://example.com/cb", "xyz", []string{"root_readwrite"}))
	got := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(got, srv.URL+"/authorize?"), got)
	assert.Contains(t, got, "client_id=client-id")
	assert.Contains(t, got, "state=xyz")

	err := RunAuthorizeURL(context.Background(), e, "not absolute", "", nil)
	var cfgErr *bc.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunLoginTokenRevoke(t *testing.T) {
	ctx := context.Background()
	srv := boxtest.New(t)
	e, out := newEnv(t, srv)

	login(t, srv, e)
	assert.Contains(t, out.String(), `logged in as "default"`)
	saved, err := e.Store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Contains(t, saved, `"version":2`)

	out.Reset()
	require.NoError(t, RunToken(ctx, e))
	assert.Equal(t, "access-1\n", out.String())

	require.NoError(t, RunRevoke(ctx, e))
	assert.Equal(t, []string{"access-1"}, srv.Revoked())
	_, err = e.Store.Load(ctx, "default")
	assert.ErrorIs(t, err, bc.ErrStateNotFound)

	err = RunToken(ctx, e)
	assert.ErrorContains(t, err, "not logged in")
}

func TestRunRefresh_PersistsNewTokens(t *testing.T) {
	ctx := context.Background()
	srv := boxtest.New(t)
	e, out := newEnv(t, srv)
	login(t, srv, e)

	require.NoError(t, RunRefresh(ctx, e))
	assert.Contains(t, out.String(), "refreshed")
	assert.Equal(t, 1, srv.GrantCount("refresh_token"))

	saved, err := e.Store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Contains(t, saved, "access-2")

	// the rotated refresh token was saved, so a second refresh also works
	require.NoError(t, RunRefresh(ctx, e))
	assert.Equal(t, 2, srv.GrantCount("refresh_token"))
}

func TestRunWhoami(t *testing.T) {
	srv := boxtest.New(t)
	e, out := newEnv(t, srv)
	login(t, srv, e)
	out.Reset()

	require.NoError(t, RunWhoami(context.Background(), e, ""))
	assert.Equal(t, "1\tUser 1\tuser1@example.com\n", out.String())

	out.Reset()
	require.NoError(t, RunWhoami(context.Background(), e, "77"))
	assert.True(t, strings.HasPrefix(out.String(), "77\t"))
}

func TestRunList(t *testing.T) {
	ctx := context.Background()
	srv := boxtest.New(t)
	srv.Items = boxtest.MakeItems(7)
	e, out := newEnv(t, srv)
	login(t, srv, e)

	out.Reset()
	require.NoError(t, RunList(ctx, e, "0", "", 5, false))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "file\t1000\tfile-0", lines[0])
	assert.Equal(t, "next marker: m1", lines[5])

	out.Reset()
	require.NoError(t, RunList(ctx, e, "0", "m1", 5, false))
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, out.String(), "next marker")

	out.Reset()
	require.NoError(t, RunList(ctx, e, "0", "", 3, true))
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 7)
}
