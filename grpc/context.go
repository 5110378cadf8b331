// Package grpc carries a Box connection's access token on outgoing gRPC
// calls, for services that sit in front of Box and accept Box tokens.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys. gRPC lowercases all metadata keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyAsUser carries the user the call acts on behalf of
	DefaultMetadataKeyAsUser = "as-user"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeyAsUser defaults to "as-user".
	MetadataKeyAsUser string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyAsUser:        DefaultMetadataKeyAsUser,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyAsUser == "" {
		c.MetadataKeyAsUser = DefaultMetadataKeyAsUser
	}
}

func resolve(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	c := *config
	c.EnsureDefaults()
	return &c
}

// metadataFor builds the auth metadata of one call.
func (c *Config) metadataFor(token, asUser string) map[string]string {
	md := map[string]string{c.MetadataKeyAuthorization: "Bearer " + token}
	if asUser != "" {
		md[c.MetadataKeyAsUser] = asUser
	}
	return md
}

// AsUserToOutgoingContext makes a single call act on behalf of userID,
// overriding the connection's AsUser setting.
func AsUserToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAsUser, userID)
}

// BearerFromIncomingContext returns the access token a server received, or "".
func BearerFromIncomingContext(ctx context.Context) string {
	return BearerFromIncomingContextWithConfig(ctx, nil)
}

// BearerFromIncomingContextWithConfig is BearerFromIncomingContext with custom keys.
func BearerFromIncomingContextWithConfig(ctx context.Context, config *Config) string {
	config = resolve(config)
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	token, ok := strings.CutPrefix(values[len(values)-1], "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// AsUserFromIncomingContext returns the as-user a server received, or "".
func AsUserFromIncomingContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(DefaultMetadataKeyAsUser); len(values) > 0 {
		return values[0]
	}
	return ""
}
