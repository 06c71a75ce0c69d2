package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noDefaultFile(t *testing.T) {
	t.Helper()
	old := DefaultPaths
	DefaultPaths = []string{t.TempDir()}
	t.Cleanup(func() { DefaultPaths = old })
}

func TestLoad_Defaults(t *testing.T) {
	noDefaultFile(t)

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", s.Logging.Level)
	assert.True(t, s.Logging.Console)
	assert.Equal(t, "/var/lib/alertrelay/queue", s.Queue.Dir)
	assert.Equal(t, 0, s.Queue.MaxAttempts)
	assert.Equal(t, 4, s.Webhook.Workers)
	assert.Equal(t, 10*time.Second, s.Durations.WebhookTimeout)
	assert.Equal(t, 15*time.Second, s.Durations.TelegramTimeout)
	assert.Equal(t, 5*time.Second, s.Durations.StorageBusyTimeout)
	assert.Equal(t, 20.0, s.Telegram.RatePerSec)
	assert.Equal(t, "file", s.Storage.Driver)
	assert.Equal(t, "@every 1m", s.Drain.Schedule)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alertrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: DEBUG
queue:
  dir: /tmp/q
  max_attempts: 5
webhook:
  timeout: 3s
drain:
  alert_threshold: 20
  destinations: [webhook]
`), 0o644))
	t.Setenv("ALERTRELAY_QUEUE_DIR", "/srv/queue")
	t.Setenv("ALERTRELAY_STORAGE_DRIVER", "sqlite")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, "/srv/queue", s.Queue.Dir, "env beats file")
	assert.Equal(t, 5, s.Queue.MaxAttempts)
	assert.Equal(t, 3*time.Second, s.Durations.WebhookTimeout)
	assert.Equal(t, 20, s.Drain.AlertThreshold)
	assert.Equal(t, []string{"webhook"}, s.Drain.Destinations)
	assert.Equal(t, "sqlite", s.Storage.Driver)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("webhook:\n  timeout: soon\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.timeout")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDurationField("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)

	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestParseDuration_BareSeconds(t *testing.T) {
	d, err := ParseDurationField("webhook.timeout", "30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = ParseDurationField("webhook.timeout", "-3")
	assert.Error(t, err)
}
