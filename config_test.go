package boxconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultTokenURL, cfg.TokenURL)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, time.Hour, cfg.DeveloperTokenTTL)
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, DefaultConfig(), LoadConfig())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("BOX_BASE_URL", "http://localhost:9000/2.0/")
		t.Setenv("BOX_MAX_RETRY_ATTEMPTS", "2")
		t.Setenv("BOX_CONNECT_TIMEOUT_SECONDS", "5")
		t.Setenv("BOX_RETRY_BASE_DELAY_MS", "10")
		t.Setenv("BOX_LOG_LEVEL", "debug")

		cfg := LoadConfig()
		assert.Equal(t, "http://localhost:9000/2.0/", cfg.BaseURL)
		assert.Equal(t, 2, cfg.MaxRetryAttempts)
		assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 10*time.Millisecond, cfg.RetryBaseDelay)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, DefaultTokenURL, cfg.TokenURL)
	})
}
