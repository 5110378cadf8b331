package boxconn

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTokenRevoked is returned by token accessors after the connection's tokens were revoked.
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrCannotRefresh means the connection has no way to mint a new access token
	// (developer token, or a refresh-grant connection without a refresh token).
	ErrCannotRefresh = errors.New("connection cannot refresh its access token")

	// ErrInvalidState is wrapped by ConfigurationError when a saved state cannot be decoded.
	ErrInvalidState = errors.New("invalid saved connection state")
)

// AuthenticationError means a credential exchange was rejected by the server,
// or a request was still unauthorized after a forced refresh. It is never retried.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("authentication failed: HTTP %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("authentication failed: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}
	return "authentication failed"
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientRequestError is returned once the retry budget for 429/5xx responses
// or network timeouts has been used up.
type TransientRequestError struct {
	Attempts   int
	StatusCode int // 0 when the last attempt failed at the transport level
	Body       string
	Err        error
}

func (e *TransientRequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("request failed after %d attempts: HTTP %d", e.Attempts, e.StatusCode)
}

func (e *TransientRequestError) Unwrap() error { return e.Err }

// APIError is a non-retried 4xx rejection (bad request, not found, conflict...).
// Code, Message and RequestID are filled from Box's JSON error body when present.
type APIError struct {
	StatusCode int
	Body       string
	Code       string
	Message    string
	RequestID  string
}

// NewAPIError builds an APIError and parses the Box error envelope out of body.
func NewAPIError(statusCode int, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Body: string(body)}
	var envelope struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		e.Code = envelope.Code
		e.Message = envelope.Message
		e.RequestID = envelope.RequestID
	}
	return e
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("box api error: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("box api error: HTTP %d", e.StatusCode)
}

// ConfigurationError reports malformed saved state, missing credentials,
// or an invalid scope/resource combination detected before any request is sent.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "invalid configuration"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
