package grpc

import (
	"context"

	"google.golang.org/grpc/credentials"

	"github.com/panyam/boxconn/client"
)

// PerRPCCredentials attaches the connection's access token to every call.
// It refreshes expired tokens but cannot retry a rejected call; use
// UnaryClientInterceptor for that.
type PerRPCCredentials struct {
	Conn   *client.Connection
	Config *Config

	// Insecure allows sending tokens over connections without transport
	// security, for tests and local development.
	Insecure bool
}

func (p *PerRPCCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := p.Conn.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return resolve(p.Config).metadataFor(token, p.Conn.AsUserID()), nil
}

func (p *PerRPCCredentials) RequireTransportSecurity() bool {
	return !p.Insecure
}

var _ credentials.PerRPCCredentials = (*PerRPCCredentials)(nil)
