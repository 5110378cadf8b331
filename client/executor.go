package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	bc "github.com/panyam/boxconn"
)

// Send executes req with the connection's tokens and headers.
//
// 2xx and 3xx responses are returned. A 401 triggers one refresh (unless
// another caller already rotated the token) and one resend; a second 401 is an
// AuthenticationError. 429 and 5xx responses and network timeouts are retried
// up to MaxRetryAttempts times, honouring Retry-After, and then reported as a
// TransientRequestError. Any other 4xx is an APIError.
func (c *Connection) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &bc.ConfigurationError{Field: "request", Err: errNilRequest}
	}
	start := c.clock.Now()
	attempts := 0
	status := 0
	defer func() {
		c.metrics.RecordRequest(ctx, req.Method, status, attempts, c.clock.Since(start))
	}()

	var used string
	build := func() (*Request, error) {
		r := req.Clone()
		if req.NoAuth {
			c.applyBaseHeaders(r)
			return r, nil
		}
		token, err := c.GetAccessToken(ctx)
		if err != nil {
			return nil, err
		}
		used = token
		c.applyHeaders(r, token)
		return r, nil
	}

	for retried := false; ; retried = true {
		resp, n, err := c.sendWithRetry(ctx, build)
		attempts += n
		if err != nil {
			var te *bc.TransientRequestError
			if errors.As(err, &te) {
				te.Attempts = attempts
				status = te.StatusCode
			}
			return nil, err
		}
		status = resp.StatusCode

		switch {
		case resp.StatusCode < 400:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized && !req.NoAuth:
			if retried {
				c.logger.Warn().Str("url", req.URL).Msg("still unauthorized after token refresh")
				return nil, &bc.AuthenticationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
			}
			c.logger.Debug().Str("url", req.URL).Msg("got 401, refreshing access token")
			if err := c.RefreshRejected(ctx, used); err != nil {
				return nil, err
			}
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, &bc.AuthenticationError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		default:
			return nil, bc.NewAPIError(resp.StatusCode, resp.Body)
		}
	}
}

// sendWithRetry performs attempts until one yields a non-retryable result.
// build is called before every attempt so headers pick up a rotated token.
// It returns the final response (any status that is not retried) and the
// number of attempts made.
func (c *Connection) sendWithRetry(ctx context.Context, build func() (*Request, error)) (*Response, int, error) {
	maxRetries := c.MaxRetryAttempts()
	bo := c.newBackOff()

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, attempt - 1, err
			}
		}
		req, err := build()
		if err != nil {
			return nil, attempt - 1, err
		}

		resp, err := c.roundTrip(ctx, req)
		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, attempt, ctx.Err()
			}
			var cfgErr *bc.ConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, attempt, err
			}
			if !isTransientNetError(err) || attempt > maxRetries {
				return nil, attempt, &bc.TransientRequestError{Attempts: attempt, Err: err}
			}
			delay = bo.NextBackOff()
			c.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("network error, retrying")

		case isRetryableStatus(resp.StatusCode):
			if attempt > maxRetries {
				return nil, attempt, &bc.TransientRequestError{
					Attempts:   attempt,
					StatusCode: resp.StatusCode,
					Body:       string(resp.Body),
				}
			}
			if d, ok := c.retryAfter(resp.Header); ok {
				delay = d
			} else {
				delay = bo.NextBackOff()
			}
			c.logger.Debug().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retryable response, backing off")

		default:
			return resp, attempt, nil
		}

		if err := c.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
}

// roundTrip performs a single attempt through the interceptor or the network.
func (c *Connection) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	ic := c.interceptor
	client := c.httpClient
	c.mu.RUnlock()

	if ic != nil {
		resp, err := ic.Intercept(ctx, req)
		if err != nil || resp != nil {
			if resp != nil && resp.Header == nil {
				resp.Header = make(http.Header)
			}
			return resp, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &bc.ConfigurationError{Field: "url", Reason: req.URL, Err: err}
	}
	httpReq.Header = req.Header.Clone()

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// applyBaseHeaders sets headers every request carries.
func (c *Connection) applyBaseHeaders(r *Request) {
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// applyHeaders sets the bearer token, custom headers, As-User and
// notification suppression on an API request.
func (c *Connection) applyHeaders(r *Request, token string) {
	c.applyBaseHeaders(r)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.customHeaders {
		r.Header.Set(k, v)
	}
	if c.asUserID != "" {
		r.Header.Set(HeaderAsUser, c.asUserID)
	}
	if c.suppressNotifications {
		r.Header.Set(HeaderBoxNotifications, "off")
	}
}

// postForm sends an unauthenticated form POST with transient retries. Any
// non-retried status is returned as a response for the caller to classify.
func (c *Connection) postForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	tmpl := NewFormRequest(rawURL, form)
	tmpl.NoAuth = true
	resp, _, err := c.sendWithRetry(ctx, func() (*Request, error) {
		r := tmpl.Clone()
		c.applyBaseHeaders(r)
		return r, nil
	})
	return resp, err
}
