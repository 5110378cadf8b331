package boxconn

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Default endpoints
const (
	DefaultBaseURL          = "https://api.box.com/2.0/"
	DefaultBaseUploadURL    = "https://upload.box.com/api/2.0/"
	DefaultTokenURL         = "https://api.box.com/oauth2/token"
	DefaultRevokeURL        = "https://api.box.com/oauth2/revoke"
	DefaultAuthorizationURL = "https://account.box.com/api/oauth2/authorize"
	DefaultUserAgent        = "boxconn-go"
)

// Config holds process-wide defaults for connections. It is passed by value
// into every connection; per-connection setters override individual fields
// without touching the Config they were built from.
type Config struct {
	BaseURL          string
	BaseUploadURL    string
	TokenURL         string
	RevokeURL        string
	AuthorizationURL string
	UserAgent        string

	// MaxRetryAttempts is the number of retries (not counting the first attempt)
	// for 429/5xx responses and network timeouts.
	MaxRetryAttempts int
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	RetryBaseDelay   time.Duration
	// RetryMaxDelay caps both the backoff interval and a server's Retry-After.
	RetryMaxDelay time.Duration

	// DeveloperTokenTTL is how long a bare access token is trusted when no
	// expiry information is available.
	DeveloperTokenTTL time.Duration

	LogLevel string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		BaseUploadURL:     DefaultBaseUploadURL,
		TokenURL:          DefaultTokenURL,
		RevokeURL:         DefaultRevokeURL,
		AuthorizationURL:  DefaultAuthorizationURL,
		UserAgent:         DefaultUserAgent,
		MaxRetryAttempts:  5,
		ConnectTimeout:    30 * time.Second,
		ReadTimeout:       60 * time.Second,
		RetryBaseDelay:    time.Second,
		RetryMaxDelay:     30 * time.Second,
		DeveloperTokenTTL: 60 * time.Minute,
		LogLevel:          "info",
	}
}

// LoadConfig builds a Config from BOX_* environment variables, falling back to
// DefaultConfig for anything unset. A .env file in the working directory or
// any parent is loaded first if present.
func LoadConfig() Config {
	loadDotEnv()

	d := DefaultConfig()
	return Config{
		BaseURL:          env.GetString("BOX_BASE_URL", d.BaseURL),
		BaseUploadURL:    env.GetString("BOX_BASE_UPLOAD_URL", d.BaseUploadURL),
		TokenURL:         env.GetString("BOX_TOKEN_URL", d.TokenURL),
		RevokeURL:        env.GetString("BOX_REVOKE_URL", d.RevokeURL),
		AuthorizationURL: env.GetString("BOX_AUTHORIZATION_URL", d.AuthorizationURL),
		UserAgent:        env.GetString("BOX_USER_AGENT", d.UserAgent),

		MaxRetryAttempts: env.GetInt("BOX_MAX_RETRY_ATTEMPTS", d.MaxRetryAttempts),
		ConnectTimeout:   env.GetDuration("BOX_CONNECT_TIMEOUT_SECONDS", 30, time.Second),
		ReadTimeout:      env.GetDuration("BOX_READ_TIMEOUT_SECONDS", 60, time.Second),
		RetryBaseDelay:   env.GetDuration("BOX_RETRY_BASE_DELAY_MS", 1000, time.Millisecond),
		RetryMaxDelay:    env.GetDuration("BOX_RETRY_MAX_DELAY_SECONDS", 30, time.Second),

		DeveloperTokenTTL: env.GetDuration("BOX_DEVELOPER_TOKEN_TTL_MINUTES", 60, time.Minute),

		LogLevel: env.GetString("BOX_LOG_LEVEL", d.LogLevel),
	}
}

// loadDotEnv walks up from the working directory and loads the first .env found.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
