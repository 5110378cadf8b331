package client

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the connection to oauth2.TokenSource. Each Token call
// goes through GetAccessToken, so refreshes stay coordinated with every other
// user of the connection.
func (c *Connection) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &connTokenSource{ctx: ctx, conn: c}
}

type connTokenSource struct {
	ctx  context.Context
	conn *Connection
}

func (s *connTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.conn.GetAccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	st := s.conn.State()
	tok := &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: st.RefreshToken,
	}
	if st.AccessToken == access {
		tok.Expiry = st.ExpiresAt()
	}
	return tok, nil
}
