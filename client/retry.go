package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff returns the exponential schedule used between retries when the
// server gives no Retry-After hint.
func (c *Connection) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBaseDelay
	b.MaxInterval = c.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Clock = c.clock
	b.Reset()
	return b
}

// isRetryableStatus reports whether a status is worth another attempt.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// isTransientNetError reports whether a transport failure is a timeout or a
// dropped connection.
func isTransientNetError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET)
}

// parseRetryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date. ok is false when the header is missing or unparsable.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// retryAfter returns the server's Retry-After hint, capped at RetryMaxDelay.
func (c *Connection) retryAfter(h http.Header) (time.Duration, bool) {
	d, ok := parseRetryAfter(h, c.clock.Now())
	if ok && c.cfg.RetryMaxDelay > 0 && d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d, ok
}

// sleep waits d on the connection clock, or until ctx is done.
func (c *Connection) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}
