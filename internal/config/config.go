// Package config loads pledge configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageBackend selects the rule repository implementation.
type StorageBackend string

const (
	StorageEncrypted StorageBackend = "encrypted"
	StorageFile      StorageBackend = "file"
)

// EnvDataDir overrides data_dir when set.
const EnvDataDir = "PLEDGE_DATA_DIR"

// MinChangeDelay is the shortest cool-down a config may request.
const MinChangeDelay = time.Minute

// Config represents the pledge configuration.
type Config struct {
	DataDir            string         `yaml:"data_dir"`
	Storage            StorageBackend `yaml:"storage"`
	ChangeDelay        time.Duration  `yaml:"change_delay"`
	EvaluationInterval time.Duration  `yaml:"evaluation_interval"`
	SnapshotPath       string         `yaml:"snapshot_path"`
	DecisionsPath      string         `yaml:"decisions_path"`
	LogPath            string         `yaml:"log_path"`
	LogLevel           string         `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:            DefaultDataDir(),
		Storage:            StorageEncrypted,
		ChangeDelay:        time.Hour,
		EvaluationInterval: 30 * time.Second,
		LogLevel:           "info",
	}
}

// DefaultDataDir is <UserConfigDir>/pledge, falling back to ~/.pledge.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pledge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pledge")
}

// DefaultPath is the config file looked up when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDerived fills paths that default to locations inside DataDir.
func (c *Config) applyDerived() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Storage == "" {
		c.Storage = StorageEncrypted
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = filepath.Join(c.DataDir, "snapshot.json")
	}
	if c.DecisionsPath == "" {
		c.DecisionsPath = filepath.Join(c.DataDir, "decisions.json")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.DataDir, "pledge.log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageEncrypted, StorageFile:
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)", c.Storage, StorageEncrypted, StorageFile)
	}
	if c.ChangeDelay < MinChangeDelay {
		return fmt.Errorf("change_delay %s is below the minimum %s", c.ChangeDelay, MinChangeDelay)
	}
	if c.EvaluationInterval <= 0 {
		return fmt.Errorf("evaluation_interval must be positive, got %s", c.EvaluationInterval)
	}
	return nil
}
