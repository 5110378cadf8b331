package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/panyam/boxconn/client"
)

// UnaryClientInterceptor attaches conn's access token to every unary call.
// A call rejected with codes.Unauthenticated triggers one token refresh and
// one resend; a second rejection is returned to the caller.
func UnaryClientInterceptor(conn *client.Connection, config *Config) grpc.UnaryClientInterceptor {
	config = resolve(config)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		for retried := false; ; retried = true {
			token, err := conn.GetAccessToken(ctx)
			if err != nil {
				return err
			}
			err = invoker(withAuth(ctx, config, token, conn.AsUserID()), method, req, reply, cc, opts...)
			if retried || status.Code(err) != codes.Unauthenticated {
				return err
			}
			if err := conn.RefreshRejected(ctx, token); err != nil {
				return err
			}
		}
	}
}

// StreamClientInterceptor attaches conn's access token when a stream opens.
// Streams are not retried.
func StreamClientInterceptor(conn *client.Connection, config *Config) grpc.StreamClientInterceptor {
	config = resolve(config)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		token, err := conn.GetAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		return streamer(withAuth(ctx, config, token, conn.AsUserID()), desc, cc, method, opts...)
	}
}

// withAuth sets the auth metadata, leaving an as-user already on ctx alone.
func withAuth(ctx context.Context, config *Config, token, asUser string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	for k, v := range config.metadataFor(token, asUser) {
		if k == config.MetadataKeyAsUser && len(md.Get(k)) > 0 {
			continue
		}
		md.Set(k, v)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
