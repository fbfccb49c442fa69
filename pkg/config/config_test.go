package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Heartbeat.Interval)
	require.Equal(t, 60, cfg.Screenshots.JPEGQuality)
	require.False(t, cfg.Screenshots.Enable)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  url: http://coordinator:8080
heartbeat:
  interval_s: 30
screenshots:
  enable: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://coordinator:8080", cfg.Server.URL)
	require.Equal(t, 30, cfg.Heartbeat.Interval)
	require.True(t, cfg.Screenshots.Enable)
	// Untouched sections keep their defaults.
	require.Equal(t, 10, cfg.Server.RequestTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HERD_SERVER_URL", "http://env-wins:8080")
	t.Setenv("HERD_API_KEY", "env-key")
	t.Setenv("HERD_COMPUTER_ID", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://env-wins:8080", cfg.Server.URL)
	require.Equal(t, "env-key", cfg.Auth.APIKey)
	require.Equal(t, uint(7), cfg.Auth.ComputerID)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.ErrorIs(t, cfg.Validate(), ErrMissingServerURL)

	cfg.Server.URL = "coordinator:8080"
	require.Error(t, cfg.Validate())

	cfg.Server.URL = "http://coordinator:8080"
	cfg.Heartbeat.Interval = 1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidInterval)

	cfg.Heartbeat.Interval = 10
	cfg.Server.RetryMaxMs = 1 // below initial: clamped up
	require.NoError(t, cfg.Validate())
	require.Equal(t, cfg.Server.RetryInitialMs, cfg.Server.RetryMaxMs)
}

func TestValidateCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "http://coordinator:8080"
	require.ErrorIs(t, cfg.ValidateCredentials(), ErrNotRegistered)

	cfg.Auth.ComputerID = 3
	cfg.Auth.APIKey = "key"
	require.NoError(t, cfg.ValidateCredentials())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.yaml")

	cfg := DefaultConfig()
	cfg.Server.URL = "http://coordinator:8080"
	cfg.Auth.ComputerID = 12
	cfg.Auth.APIKey = "secret-key"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint(12), loaded.Auth.ComputerID)
	require.Equal(t, "secret-key", loaded.Auth.APIKey)
}
