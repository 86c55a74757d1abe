package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Latency.AuthSubmit)
	assert.Equal(t, 2500*time.Millisecond, cfg.Latency.Search)
	assert.Equal(t, 2*time.Second, cfg.Latency.ReplyMin)
	assert.Equal(t, 3*time.Second, cfg.Latency.ReplyMax)
	assert.Equal(t, 3*time.Second, cfg.Latency.Call)
	assert.Equal(t, time.Second, cfg.Latency.Block)
	assert.Equal(t, "memory", cfg.Social.Backend)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 1, cfg.JWT.RefreshHours)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.AuthPerMinute)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("reads yaml with duration strings", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 8088
latency:
  search: 500ms
  reply_min: 1s
  reply_max: 2s
social:
  backend: redis
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 8088, cfg.Server.Port)
		assert.Equal(t, 500*time.Millisecond, cfg.Latency.Search)
		assert.Equal(t, time.Second, cfg.Latency.ReplyMin)
		assert.Equal(t, "redis", cfg.Social.Backend)
		// untouched keys keep their defaults
		assert.Equal(t, 1500*time.Millisecond, cfg.Latency.AuthSubmit)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 8088\n")
		t.Setenv("STRANGERS_SERVER_PORT", "7001")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 7001, cfg.Server.Port)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("rejects inverted reply window", func(t *testing.T) {
		path := writeConfig(t, "latency:\n  reply_min: 5s\n  reply_max: 1s\n")
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects unknown social backend", func(t *testing.T) {
		path := writeConfig(t, "social:\n  backend: postgres\n")
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
