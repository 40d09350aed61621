package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://api.local/api/")
	t.Setenv("SOCKET_URL", "ws://api.local/ws")
	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://api.local/api", cfg.APIBaseURL)
	assert.Equal(t, time.Second, cfg.JoinRetryDelay)
	assert.Equal(t, 15*time.Second, cfg.PollIntervalFor(true))
	assert.Equal(t, 30*time.Second, cfg.PollIntervalFor(false))
}

func TestLoadPollIntervalSeconds(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://api.local")
	t.Setenv("SOCKET_URL", "ws://api.local/ws")
	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("POLL_INTERVAL", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.PollIntervalFor(true))
	assert.Equal(t, 20*time.Second, cfg.PollIntervalFor(false))
}

func TestValidateRequiresStateFile(t *testing.T) {
	cfg := &Config{
		APIBaseURL:     "http://api.local",
		SocketURL:      "ws://api.local/ws",
		StateBackend:   StateBackendFile,
		JoinRetryDelay: time.Second,
		RequestTimeout: time.Second,
	}
	assert.Error(t, cfg.Validate())

	cfg.StateFile = "/tmp/state.json"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	cfg := &Config{
		APIBaseURL:     "http://api.local",
		SocketURL:      "ws://api.local/ws",
		StateBackend:   StateBackendMemory,
		ViewerRole:     "superuser",
		JoinRetryDelay: time.Second,
		RequestTimeout: time.Second,
	}
	assert.Error(t, cfg.Validate())
}
