// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for budgetvault.
//
// Settings come from ~/.budgetvault/config.toml with built-in defaults
// and environment variable overrides. Precedence, lowest to highest:
//   - Built-in defaults
//   - config.toml
//   - BUDGETVAULT_* environment variables
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/budgetvault/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete budgetvault configuration.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Security SecurityConfig `toml:"security"`
	Session  SessionConfig  `toml:"session"`
	Audit    AuditConfig    `toml:"audit"`
}

// StorageConfig controls where state files live.
type StorageConfig struct {
	// DataDir is the directory holding all encrypted state files
	// (empty = default ~/.budgetvault/data).
	DataDir string `toml:"data_dir"`
}

// SecurityConfig controls authentication policy.
type SecurityConfig struct {
	// MaxFailedAttempts is the consecutive failure count that locks an
	// account.
	MaxFailedAttempts int `toml:"max_failed_attempts"`
	// LockoutMinutes is how long a lockout lasts.
	LockoutMinutes int `toml:"lockout_minutes"`
	// PBKDF2Iterations is the key-derivation iteration count. Values
	// below the built-in minimum are raised to it.
	PBKDF2Iterations int `toml:"pbkdf2_iterations"`
}

// SessionConfig controls idle session expiry.
type SessionConfig struct {
	// TimeoutMinutes is the idle window before a session expires.
	TimeoutMinutes int `toml:"timeout_minutes"`
	// CheckIntervalSeconds is how often the session watchdog runs.
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// AuditConfig controls the security audit trail.
type AuditConfig struct {
	// Enabled turns audit logging on. Default: true.
	Enabled bool `toml:"enabled"`
	// LogPath is the audit log location (empty = <data_dir>/audit.log).
	LogPath string `toml:"log_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			MaxFailedAttempts: 5,
			LockoutMinutes:    15,
			PBKDF2Iterations:  10000,
		},
		Session: SessionConfig{
			TimeoutMinutes:       30,
			CheckIntervalSeconds: 60,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// ConfigDir returns the budgetvault configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".budgetvault"), nil
}

// ConfigPath returns the path of the TOML configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads the configuration file if present, applies environment
// overrides, fills gaps with defaults, and validates the result. A
// missing file is not an error; defaults are used.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies BUDGETVAULT_* environment variables on top
// of whatever was loaded.
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("BUDGETVAULT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if path := os.Getenv("BUDGETVAULT_AUDIT_LOG"); path != "" {
		c.Audit.LogPath = path
	}
	if v := os.Getenv("BUDGETVAULT_SESSION_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TimeoutMinutes = n
		}
	}
}

// SetDefaults fills empty or zero fields with built-in values. Derived
// paths (data dir, audit log) resolve here so later code can use them
// unconditionally.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Storage.DataDir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.DataDir = filepath.Join(dir, "data")
		}
	}
	if c.Security.MaxFailedAttempts <= 0 {
		c.Security.MaxFailedAttempts = d.Security.MaxFailedAttempts
	}
	if c.Security.LockoutMinutes <= 0 {
		c.Security.LockoutMinutes = d.Security.LockoutMinutes
	}
	if c.Security.PBKDF2Iterations <= 0 {
		c.Security.PBKDF2Iterations = d.Security.PBKDF2Iterations
	}
	if c.Session.TimeoutMinutes <= 0 {
		c.Session.TimeoutMinutes = d.Session.TimeoutMinutes
	}
	if c.Session.CheckIntervalSeconds <= 0 {
		c.Session.CheckIntervalSeconds = d.Session.CheckIntervalSeconds
	}
	if c.Audit.LogPath == "" && c.Storage.DataDir != "" {
		c.Audit.LogPath = filepath.Join(c.Storage.DataDir, "audit.log")
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir could not be resolved")
	}
	if c.Security.MaxFailedAttempts < 1 {
		return fmt.Errorf("security.max_failed_attempts must be at least 1, got %d", c.Security.MaxFailedAttempts)
	}
	if c.Security.LockoutMinutes < 1 {
		return fmt.Errorf("security.lockout_minutes must be at least 1, got %d", c.Security.LockoutMinutes)
	}
	if c.Session.TimeoutMinutes < 1 {
		return fmt.Errorf("session.timeout_minutes must be at least 1, got %d", c.Session.TimeoutMinutes)
	}
	if c.Session.CheckIntervalSeconds < 1 {
		return fmt.Errorf("session.check_interval_seconds must be at least 1, got %d", c.Session.CheckIntervalSeconds)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the default path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path as TOML. The encoder runs
// against a buffer so the file write stays atomic.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// LockoutDuration returns the lockout window as a duration.
func (c *SecurityConfig) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

// Timeout returns the session idle timeout as a duration.
func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// CheckInterval returns the watchdog tick interval as a duration.
func (c *SessionConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}
