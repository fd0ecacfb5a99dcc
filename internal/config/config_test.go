package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, StorageEncrypted, cfg.Storage)
	assert.Equal(t, time.Hour, cfg.ChangeDelay)
	assert.Equal(t, 30*time.Second, cfg.EvaluationInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(cfg.DataDir, "snapshot.json"), cfg.SnapshotPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "decisions.json"), cfg.DecisionsPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "pledge.log"), cfg.LogPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	path := writeConfig(t, `
data_dir: /srv/pledge
storage: file
change_delay: 2h
evaluation_interval: 10s
snapshot_path: /run/health/snapshot.json
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/pledge", cfg.DataDir)
	assert.Equal(t, StorageFile, cfg.Storage)
	assert.Equal(t, 2*time.Hour, cfg.ChangeDelay)
	assert.Equal(t, 10*time.Second, cfg.EvaluationInterval)
	assert.Equal(t, "/run/health/snapshot.json", cfg.SnapshotPath)
	assert.Equal(t, "/srv/pledge/decisions.json", cfg.DecisionsPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverridesDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	path := writeConfig(t, "data_dir: /ignored\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "snapshot.json"), cfg.SnapshotPath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(EnvDataDir, "")

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"delay below minimum", "change_delay: 30s\n", "below the minimum"},
		{"zero interval", "evaluation_interval: 0s\n", "must be positive"},
		{"unknown storage", "storage: floppy\n", "unknown storage backend"},
		{"not yaml", "storage: [\n", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
