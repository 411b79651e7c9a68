// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Security.MaxFailedAttempts)
	assert.Equal(t, 15, cfg.Security.LockoutMinutes)
	assert.Equal(t, 10000, cfg.Security.PBKDF2Iterations)
	assert.Equal(t, 30, cfg.Session.TimeoutMinutes)
	assert.Equal(t, 60, cfg.Session.CheckIntervalSeconds)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
data_dir = "/tmp/vault-data"

[security]
max_failed_attempts = 3
lockout_minutes = 5

[session]
timeout_minutes = 10
check_interval_seconds = 15

[audit]
enabled = true
log_path = "/tmp/vault-data/audit.log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := Default()
	require.NoError(t, LoadTOML(cfg, path))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/vault-data", cfg.Storage.DataDir)
	assert.Equal(t, 3, cfg.Security.MaxFailedAttempts)
	assert.Equal(t, 5, cfg.Security.LockoutMinutes)
	// Unset fields keep their defaults.
	assert.Equal(t, 10000, cfg.Security.PBKDF2Iterations)
	assert.Equal(t, 10, cfg.Session.TimeoutMinutes)
	assert.Equal(t, 15, cfg.Session.CheckIntervalSeconds)
}

func TestSetDefaultsDerivesAuditPath(t *testing.T) {
	cfg := Default()
	cfg.Storage.DataDir = "/tmp/vault-data"
	cfg.SetDefaults()

	assert.Equal(t, filepath.Join("/tmp/vault-data", "audit.log"), cfg.Audit.LogPath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BUDGETVAULT_DATA_DIR", "/tmp/env-data")
	t.Setenv("BUDGETVAULT_SESSION_TIMEOUT_MINUTES", "7")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	assert.Equal(t, "/tmp/env-data", cfg.Storage.DataDir)
	assert.Equal(t, 7, cfg.Session.TimeoutMinutes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max attempts", func(c *Config) { c.Security.MaxFailedAttempts = 0 }},
		{"negative lockout", func(c *Config) { c.Security.LockoutMinutes = -1 }},
		{"zero timeout", func(c *Config) { c.Session.TimeoutMinutes = 0 }},
		{"zero check interval", func(c *Config) { c.Session.CheckIntervalSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.DataDir = t.TempDir()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Storage.DataDir = "/tmp/vault-data"
	cfg.Session.TimeoutMinutes = 12
	cfg.SetDefaults()

	require.NoError(t, SaveTOML(cfg, path))

	loaded := Default()
	require.NoError(t, LoadTOML(loaded, path))
	assert.Equal(t, cfg.Storage.DataDir, loaded.Storage.DataDir)
	assert.Equal(t, 12, loaded.Session.TimeoutMinutes)
}

func TestDerivedDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration())
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout())
	assert.Equal(t, time.Minute, cfg.Session.CheckInterval())
}
