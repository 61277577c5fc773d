package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api", cfg.Server.APIBaseURL)
	assert.Equal(t, 5, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.CountdownTickInterval())
	assert.Equal(t, 3*time.Second, cfg.RosterPollInterval())
	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_base_url: https://quiz.example.com/api
  ws_base_url: wss://quiz.example.com
connection:
  max_reconnect_attempts: 8
countdown:
  tick_interval_ms: 100
relay:
  enabled: true
  subject_prefix: quiz.prod
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://quiz.example.com/api", cfg.Server.APIBaseURL)
	assert.Equal(t, 8, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.CountdownTickInterval())
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "quiz.prod", cfg.Relay.SubjectPrefix)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Keys the file leaves out keep their defaults.
	assert.Equal(t, 1000, cfg.Connection.ReconnectBaseDelayMS)
	assert.Equal(t, "nats://localhost:4222", cfg.Relay.NATSURL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_base_url: https://file.example.com/api
`), 0o600))

	t.Setenv("QUIZLIVE_API_URL", "https://env.example.com/api")
	t.Setenv("QUIZLIVE_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("QUIZLIVE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/api", cfg.Server.APIBaseURL)
	assert.Equal(t, 3, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_NonNumericEnvIntIsIgnored(t *testing.T) {
	t.Setenv("QUIZLIVE_MAX_RECONNECT_ATTEMPTS", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Connection.MaxReconnectAttempts)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSessionSocketURL(t *testing.T) {
	cfg := Default()
	cfg.Server.WSBaseURL = "wss://quiz.example.com"
	assert.Equal(t, "wss://quiz.example.com/ws/sessions/s1", cfg.SessionSocketURL("s1"))
}
