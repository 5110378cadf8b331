package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request is a Box API request template. Send copies it for every attempt,
// so the same Request can be retried and re-sent safely.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// NoAuth skips the Authorization, As-User and custom headers. It is set
	// on token and revoke endpoint calls.
	NoAuth bool
}

// NewRequest creates a request without a body.
func NewRequest(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL, Header: make(http.Header)}
}

// NewJSONRequest creates a request with v encoded as a JSON body.
func NewJSONRequest(method, rawURL string, v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	r := NewRequest(method, rawURL)
	r.Body = body
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

// NewFormRequest creates a POST with a url-encoded form body.
func NewFormRequest(rawURL string, form url.Values) *Request {
	r := NewRequest(http.MethodPost, rawURL)
	r.Body = []byte(form.Encode())
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

// SetQuery sets a query parameter on the request URL.
func (r *Request) SetQuery(key, value string) *Request {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	r.URL = u.String()
	return r
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	n := *r
	n.Header = r.Header.Clone()
	if n.Header == nil {
		n.Header = make(http.Header)
	}
	if r.Body != nil {
		n.Body = bytes.Clone(r.Body)
	}
	return &n
}

// String renders the request line and headers with credentials masked.
// It is safe to log from an interceptor.
func (r *Request) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", r.Method, r.URL)
	for k, vs := range r.Header {
		for _, v := range vs {
			if k == "Authorization" {
				v = "Bearer " + maskToken(strings.TrimPrefix(v, "Bearer "))
			}
			fmt.Fprintf(&sb, "\n%s: %s", k, v)
		}
	}
	if len(r.Body) > 0 {
		fmt.Fprintf(&sb, "\n\n%d bytes", len(r.Body))
	}
	return sb.String()
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// NewJSONResponse builds a canned response, handy for interceptors.
func NewJSONResponse(statusCode int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{StatusCode: statusCode, Header: h, Body: body}, nil
}

// Interceptor sees every attempt before it goes to the network. Returning a
// non-nil Response answers the attempt without a network call; the response
// is still classified like a real one. Returning (nil, nil) lets the
// (possibly modified) request proceed.
type Interceptor interface {
	Intercept(ctx context.Context, req *Request) (*Response, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *Request) (*Response, error)

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
