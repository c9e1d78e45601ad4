package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, PolicyLenient, cfg.Resolve.StalePolicy)
	require.Equal(t, 64, cfg.Queue.Capacity)
	require.Equal(t, 5*time.Second, cfg.Queue.DefaultTimeout)
	require.Equal(t, ".keel/keel.log", cfg.LogPath)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
queue:
  capacity: 8
  default_timeout: 2s
resolve:
  stale_policy: strict
preload:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Queue.Capacity)
	require.Equal(t, 2*time.Second, cfg.Queue.DefaultTimeout)
	require.Equal(t, PolicyStrict, cfg.Resolve.StalePolicy)
	require.False(t, cfg.Preload.Enabled)

	// Untouched sections keep their defaults
	require.Equal(t, Defaults().Resolve.SnapshotTTL, cfg.Resolve.SnapshotTTL)
	require.Equal(t, Defaults().Watcher.Debounce, cfg.Watcher.Debounce)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"negative capacity", func(c *Config) { c.Queue.Capacity = -1 }},
		{"zero timeout", func(c *Config) { c.Queue.DefaultTimeout = 0 }},
		{"unknown policy", func(c *Config) { c.Resolve.StalePolicy = "whatever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  capacity: -5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
