package client

import (
	"net/url"

	"golang.org/x/oauth2"

	bc "github.com/panyam/boxconn"
)

// AuthorizationURL builds the URL a user visits to authorize the app, against
// the default Box authorize endpoint.
func AuthorizationURL(clientID, redirectURI, state string, scopes []string) (*url.URL, error) {
	return buildAuthorizationURL(bc.DefaultAuthorizationURL, clientID, redirectURI, state, scopes)
}

// AuthorizationURL builds the authorize URL for this connection's client ID
// and configured authorize endpoint.
func (c *Connection) AuthorizationURL(redirectURI, state string, scopes []string) (*url.URL, error) {
	return buildAuthorizationURL(c.cfg.AuthorizationURL, c.creds.ClientID, redirectURI, state, scopes)
}

// OAuth2Config exposes the connection's endpoints and credentials as an
// oauth2.Config, for code that already speaks x/oauth2.
func (c *Connection) OAuth2Config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthorizationURL,
			TokenURL:  c.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func buildAuthorizationURL(authURL, clientID, redirectURI, state string, scopes []string) (*url.URL, error) {
	if clientID == "" {
		return nil, &bc.ConfigurationError{Field: "client_id", Reason: "required"}
	}
	if redirectURI != "" {
		u, err := url.Parse(redirectURI)
		if err != nil || !u.IsAbs() {
			return nil, &bc.ConfigurationError{Field: "redirect_uri", Reason: "must be an absolute URL", Err: err}
		}
	}
	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: authURL},
	}
	u, err := url.Parse(cfg.AuthCodeURL(state))
	if err != nil {
		return nil, &bc.ConfigurationError{Field: "authorization_url", Err: err}
	}
	return u, nil
}
