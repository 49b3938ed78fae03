package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.APILimits.RequestsPerMinute)
	assert.Equal(t, 5, cfg.APILimits.BurstLimit)
	assert.Equal(t, 2.0, cfg.APILimits.BackoffFactor)
	assert.Equal(t, 5, cfg.Scanner.MaxConcurrentRequests)
	assert.Equal(t, 3, cfg.Scanner.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "relevance", cfg.Search.DefaultSort)
	assert.Equal(t, "month", cfg.Search.DefaultTimeFilter)
	assert.Contains(t, cfg.Search.DefaultSubreddits, "entrepreneur")
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
reddit:
  usernames: [alice, bob]
api_limits:
  requests_per_minute: 30
  cooldown_seconds: 10
scanner:
  max_concurrent_requests: 2
storage:
  backend: gcs
  gcs_bucket: scan-exports
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Reddit.Usernames)
	assert.Equal(t, 2, cfg.Scanner.MaxConcurrentRequests)
	assert.Equal(t, "scan-exports", cfg.Storage.GCSBucket)

	lim := cfg.LimiterConfig()
	assert.Equal(t, float64(30), lim.RequestsPerMinute)
	assert.Equal(t, 10*time.Second, lim.Cooldown)
	assert.Equal(t, 300*time.Second, lim.MaxBackoff)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"no rate limits", func(c *Config) {
			c.APILimits.RequestsPerMinute = 0
			c.APILimits.RequestsPerHour = 0
		}},
		{"zero concurrency", func(c *Config) { c.Scanner.MaxConcurrentRequests = 0 }},
		{"zero timeout", func(c *Config) { c.Scanner.RequestTimeoutSeconds = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs"; c.Storage.GCSBucket = "" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"db without dsn", func(c *Config) { c.DB.Enabled = true; c.DB.DSN = "" }},
		{"pubsub without topic", func(c *Config) { c.PubSub.Enabled = true; c.PubSub.ProjectID = "p" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
