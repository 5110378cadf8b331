package boxconn

import "strings"

// ClientCredentials identifies a Box application. The value is immutable and
// shared read-only by every connection derived from the same app registration.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Validate returns a ConfigurationError naming the first missing field.
func (c ClientCredentials) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return &ConfigurationError{Field: "client_id", Reason: "required"}
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return &ConfigurationError{Field: "client_secret", Reason: "required"}
	}
	return nil
}
