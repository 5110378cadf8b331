package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	bc "github.com/panyam/boxconn"
	"github.com/panyam/boxconn/client"
	"github.com/panyam/boxconn/paging"
)

// Env is what every command needs: settings, credentials and the store
// holding the saved connection.
type Env struct {
	Config  bc.Config
	Creds   bc.ClientCredentials
	Store   bc.StateStore
	Profile string
	Logger  zerolog.Logger
	Out     io.Writer
}

func (e *Env) options() []client.Option {
	return []client.Option{client.WithConfig(e.Config), client.WithLogger(e.Logger)}
}

// restore loads the saved connection; every refresh it makes is saved back.
func (e *Env) restore(ctx context.Context) (*client.Connection, error) {
	c, err := client.RestoreFrom(ctx, e.Store, e.Profile, e.Creds, e.options()...)
	if errors.Is(err, bc.ErrStateNotFound) {
		return nil, fmt.Errorf("not logged in as %q: run 'boxauth login' first", e.Profile)
	}
	return c, err
}

// RunAuthorizeURL prints the URL a user opens to authorize the app.
func RunAuthorizeURL(ctx context.Context, e *Env, redirectURI, state string, scopes []string) error {
	c, err := client.New(e.Creds, bc.TokenState{}, e.options()...)
	if err != nil {
		return err
	}
	u, err := c.AuthorizationURL(redirectURI, state, scopes)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, u.String())
	return nil
}

// RunLogin exchanges an authorization code and saves the resulting tokens.
func RunLogin(ctx context.Context, e *Env, code string) error {
	c, err := client.New(e.Creds, bc.TokenState{}, e.options()...)
	if err != nil {
		return err
	}
	if err := c.Authenticate(ctx, code); err != nil {
		return err
	}
	saved, err := c.Save()
	if err != nil {
		return err
	}
	if err := e.Store.Store(ctx, e.Profile, saved); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	fmt.Fprintf(e.Out, "logged in as %q, token expires at %s\n", e.Profile, c.State().ExpiresAt().Format("2006-01-02 15:04:05 MST"))
	return nil
}

// RunToken prints a valid access token, refreshing it if needed.
func RunToken(ctx context.Context, e *Env) error {
	c, err := e.restore(ctx)
	if err != nil {
		return err
	}
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, token)
	return nil
}

// RunRefresh forces a token refresh.
func RunRefresh(ctx context.Context, e *Env) error {
	c, err := e.restore(ctx)
	if err != nil {
		return err
	}
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "refreshed, token expires at %s\n", c.State().ExpiresAt().Format("2006-01-02 15:04:05 MST"))
	return nil
}

// RunRevoke revokes the saved tokens and forgets them.
func RunRevoke(ctx context.Context, e *Env) error {
	c, err := e.restore(ctx)
	if err != nil {
		return err
	}
	if err := c.RevokeToken(ctx); err != nil {
		return err
	}
	if err := e.Store.Remove(ctx, e.Profile); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "revoked %q\n", e.Profile)
	return nil
}

type user struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Login string `json:"login"`
}

// RunWhoami prints the current user.
func RunWhoami(ctx context.Context, e *Env, asUser string) error {
	c, err := e.restore(ctx)
	if err != nil {
		return err
	}
	if asUser != "" {
		c.AsUser(asUser)
	}
	resp, err := c.Send(ctx, client.NewRequest(http.MethodGet, c.URL("users/me")))
	if err != nil {
		return err
	}
	var u user
	if err := resp.DecodeJSON(&u); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "%s\t%s\t%s\n", u.ID, u.Name, u.Login)
	return nil
}

type item struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RunList prints one page of a folder, or every page when all is set, and
// the marker to continue from.
func RunList(ctx context.Context, e *Env, folder, marker string, limit int, all bool) error {
	c, err := e.restore(ctx)
	if err != nil {
		return err
	}
	req := client.NewRequest(http.MethodGet, c.URL("folders/"+folder+"/items"))
	req.SetQuery("fields", "type,id,name")
	fetch := paging.Collection[item](c, req)
	start := paging.AtMarker(marker, limit)

	if all {
		it := paging.NewIterator(fetch, start)
		for {
			i, err := it.Next(ctx)
			if err == iterator.Done {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(e.Out, "%s\t%s\t%s\n", i.Type, i.ID, i.Name)
		}
	}

	p := paging.NewPager(fetch, start)
	items, err := p.FetchPage(ctx)
	if err != nil && err != iterator.Done {
		return err
	}
	for _, i := range items {
		fmt.Fprintf(e.Out, "%s\t%s\t%s\n", i.Type, i.ID, i.Name)
	}
	if !p.Done() {
		fmt.Fprintf(e.Out, "next marker: %s\n", p.Marker())
	}
	return nil
}
