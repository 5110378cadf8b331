package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	bc "github.com/panyam/boxconn"
)

// Transport is an http.RoundTripper that sends requests through a Connection,
// adding its Authorization and Box headers and applying its refresh and retry
// handling. Non-2xx outcomes are turned back into responses, as the
// RoundTripper contract requires.
type Transport struct {
	Conn *Connection
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}

	r := &Request{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	}
	if r.Header == nil {
		r.Header = make(http.Header)
	}

	resp, err := t.Conn.Send(req.Context(), r)
	if err != nil {
		status, respBody, ok := statusFromError(err)
		if !ok {
			return nil, err
		}
		return toHTTPResponse(req, &Response{StatusCode: status, Header: make(http.Header), Body: respBody}), nil
	}
	return toHTTPResponse(req, resp), nil
}

// statusFromError recovers the final HTTP status from a classified error.
func statusFromError(err error) (int, []byte, bool) {
	var apiErr *bc.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, []byte(apiErr.Body), true
	}
	var authErr *bc.AuthenticationError
	if errors.As(err, &authErr) && authErr.StatusCode != 0 {
		return authErr.StatusCode, []byte(authErr.Body), true
	}
	var transErr *bc.TransientRequestError
	if errors.As(err, &transErr) && transErr.StatusCode != 0 {
		return transErr.StatusCode, []byte(transErr.Body), true
	}
	return 0, nil, false
}

func toHTTPResponse(req *http.Request, r *Response) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// HTTPClient returns an *http.Client whose requests go through the connection.
func (c *Connection) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Conn: c}}
}
