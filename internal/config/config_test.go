package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Default config", func(t *testing.T) {
		cfg, err := LoadConfig("", nil)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "/mock", cfg.Server.MockPrefix)
		assert.Equal(t, "/admin/api", cfg.Server.AdminPath)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.Equal(t, "./database/mocks.db", cfg.Storage.Path)
		assert.Equal(t, 30, cfg.Storage.RetentionDays)
		assert.True(t, cfg.Web.LiveEnable, "live stream is enabled by default")
		assert.NoError(t, cfg.Validate())
	})
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       8080,
			Host:       "127.0.0.1",
			MockPrefix: "/mock",
			AdminPath:  "/admin/api",
		},
		Log: LogConfig{
			Level: "info",
			FileLogging: FileLogConfig{
				Enable:     false,
				Path:       "./mocktap.log",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Output:  OutputConfig{Mode: "console"},
		Storage: StorageConfig{Driver: "sqlite", Path: "./mocks.db", RetentionDays: 30},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "Valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "Invalid port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "invalid port",
		},
		{
			name:        "Relative mock prefix",
			mutate:      func(c *Config) { c.Server.MockPrefix = "mock" },
			expectError: true,
			errorMsg:    "mock_prefix must start with '/'",
		},
		{
			name:        "Root admin path",
			mutate:      func(c *Config) { c.Server.AdminPath = "/" },
			expectError: true,
			errorMsg:    "admin_path cannot be empty",
		},
		{
			name:        "Overlapping prefixes",
			mutate:      func(c *Config) { c.Server.AdminPath = "/mock/admin" },
			expectError: true,
			errorMsg:    "must not overlap",
		},
		{
			name:        "Sibling prefixes are fine",
			mutate:      func(c *Config) { c.Server.AdminPath = "/mockadmin" },
			expectError: false,
		},
		{
			name:        "Invalid log level",
			mutate:      func(c *Config) { c.Log.Level = "invalid" },
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name: "File logging enabled but empty path",
			mutate: func(c *Config) {
				c.Log.FileLogging.Enable = true
				c.Log.FileLogging.Path = ""
			},
			expectError: true,
			errorMsg:    "log file path cannot be empty",
		},
		{
			name:        "Unknown output mode",
			mutate:      func(c *Config) { c.Output.Mode = "xml" },
			expectError: true,
			errorMsg:    "output mode must be",
		},
		{
			name:        "Unknown storage driver",
			mutate:      func(c *Config) { c.Storage.Driver = "postgres" },
			expectError: true,
			errorMsg:    "storage driver must be sqlite or memory",
		},
		{
			name: "Memory driver needs no path",
			mutate: func(c *Config) {
				c.Storage.Driver = "memory"
				c.Storage.Path = ""
			},
			expectError: false,
		},
		{
			name:        "Negative retention",
			mutate:      func(c *Config) { c.Storage.RetentionDays = -1 },
			expectError: true,
			errorMsg:    "retention_days cannot be negative",
		},
		{
			name:        "Negative sweep interval",
			mutate:      func(c *Config) { c.Storage.SweepInterval = -time.Second },
			expectError: true,
			errorMsg:    "sweep_interval cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if !tt.expectError {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestLoadConfigWithFile(t *testing.T) {
	configContent := `
server:
  port: 9999
  mock_prefix: "/fake/"
  admin_path: "/manage"

log:
  level: "debug"
  file_logging:
    enable: true
    path: "/tmp/test.log"
    max_size_mb: 5
    max_backups: 3
    max_age_days: 7
    compress: false

storage:
  driver: memory
  retention_days: 7
  sweep_interval: 1h

web:
  live_enable: false
`
	path := filepath.Join(t.TempDir(), "mocktap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/fake", cfg.Server.MockPrefix, "trailing slash is trimmed")
	assert.Equal(t, "/manage", cfg.Server.AdminPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.FileLogging.Enable)
	assert.Equal(t, "/tmp/test.log", cfg.Log.FileLogging.Path)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 7, cfg.Storage.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Storage.SweepInterval)
	assert.False(t, cfg.Web.LiveEnable)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml", nil)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"/mock":   "/mock",
		"/mock/":  "/mock",
		" /api/ ": "/api",
		"//":      "/",
		"":        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePrefix(in), "normalizePrefix(%q)", in)
	}
}
