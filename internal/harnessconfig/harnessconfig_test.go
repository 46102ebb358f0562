package harnessconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "subprocess", cfg.SessionMode)
	assert.Equal(t, 70.0, cfg.ContextThresholdPercent)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ada.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_mode: streaming\nmodel: claude-test\nretry:\n  max_retries: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "streaming", cfg.SessionMode)
	assert.Equal(t, "claude-test", cfg.Model)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	// Unset fields still fall back to defaults.
	assert.Equal(t, 1800, cfg.SessionTimeoutSeconds)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ADA_MODEL", "claude-env-override")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "claude-env-override", cfg.Model)
}

func TestSessionTimeoutAndSilenceWindowDurations(t *testing.T) {
	cfg := &HarnessConfig{SessionTimeoutSeconds: 90, SilenceWindowSeconds: 30}
	assert.Equal(t, 90e9, float64(cfg.SessionTimeout()))
	assert.Equal(t, 30e9, float64(cfg.SilenceWindow()))
}

func TestWriteTemplateWritesFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ada.config.yaml")
	require.NoError(t, WriteTemplate(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session_mode")

	// A second call must not clobber a user-edited file.
	require.NoError(t, os.WriteFile(path, []byte("session_mode: streaming\n"), 0o644))
	require.NoError(t, WriteTemplate(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "session_mode: streaming\n", string(data))
}
