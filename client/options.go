package client

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	bc "github.com/panyam/boxconn"
)

// Option configures a Connection
type Option func(*Connection)

// WithConfig replaces the process-wide defaults the connection starts from.
func WithConfig(cfg bc.Config) Option {
	return func(c *Connection) {
		c.cfg = cfg
	}
}

// WithHTTPClient sets a custom base HTTP client (for TLS config, proxies, etc.).
// Connect/read timeout setters do not rebuild a client supplied this way.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connection) {
		if client != nil {
			c.httpClient = client
			c.customHTTP = true
		}
	}
}

// WithLogger sets the logger used for refresh and retry decisions.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithMetrics sets the recorder for request and refresh outcomes.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Connection) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithInterceptor installs an interceptor that sees every outgoing request
// and may answer it without touching the network.
func WithInterceptor(i Interceptor) Option {
	return func(c *Connection) {
		c.interceptor = i
	}
}

// WithClock sets the clock used for expiry checks and retry sleeps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAccessTokenCache shares minted tokens through cache. It only applies to
// JWT and client-credentials connections.
func WithAccessTokenCache(cache bc.AccessTokenCache) Option {
	return func(c *Connection) {
		c.tokenCache = cache
	}
}

// WithRateLimit throttles outgoing attempts (including retries) to r per second.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Connection) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithExchanger overrides the credential exchange strategy picked by the constructor.
func WithExchanger(e Exchanger) Option {
	return func(c *Connection) {
		c.exchangerOverride = e
	}
}

// WithUserAgent overrides Config.UserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Connection) {
		c.cfg.UserAgent = ua
	}
}
