// Package config tests configuration loading.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	// Ensure no env overrides leak in
	os.Unsetenv("SENTINEL_SERVICE")
	os.Unsetenv("SENTINEL_LOG_LEVEL")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check defaults
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.False(t, cfg.Server.TLSEnabled)

	// Database defaults
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "sentinel", cfg.Database.Database)
	assert.Equal(t, "sentinel", cfg.Database.Username)
	assert.Equal(t, "prefer", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	// Policy defaults
	assert.Equal(t, 30*time.Second, cfg.Policy.CacheTTL)
	assert.Equal(t, "/quarantine", cfg.Policy.QuarantinePath)
	assert.Empty(t, cfg.Policy.MinAgentVersion)

	// Agent defaults
	assert.Equal(t, "http://localhost:8080", cfg.Agent.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Agent.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.Agent.DedupWindow)
	assert.Equal(t, int64(10<<20), cfg.Agent.MaxFileSize)
	assert.Equal(t, 100, cfg.Agent.FailedEventBuffer)
	assert.Equal(t, 10*time.Second, cfg.Agent.RequestTimeout)
	assert.Empty(t, cfg.Agent.MonitoredPaths)

	// Telemetry defaults
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SENTINEL_LOG_LEVEL", "debug")
	os.Setenv("SENTINEL_SERVER_PORT", "9090")
	os.Setenv("SENTINEL_DATABASE_HOST", "postgres.example.com")
	os.Setenv("SENTINEL_AGENT_SERVER_URL", "https://dlp.example.com")
	defer func() {
		os.Unsetenv("SENTINEL_LOG_LEVEL")
		os.Unsetenv("SENTINEL_SERVER_PORT")
		os.Unsetenv("SENTINEL_DATABASE_HOST")
		os.Unsetenv("SENTINEL_AGENT_SERVER_URL")
	}()

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres.example.com", cfg.Database.Host)
	assert.Equal(t, "https://dlp.example.com", cfg.Agent.ServerURL)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sentinel.yaml")
	configContent := `
service: test-service
log_level: warn

server:
  host: 127.0.0.1
  port: 3000
  tls_enabled: true

database:
  host: db.example.com
  port: 5433
  database: sentinel_test
  username: sentinel_user
  password: secret123

policy:
  cache_ttl: 10s
  min_agent_version: 2.1.0

agent:
  server_url: https://dlp.internal:8443
  dedup_window: 2s
  quarantine_path: /var/lib/sentinel/quarantine
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "test-service", cfg.Service)
	assert.Equal(t, "warn", cfg.LogLevel)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Server.TLSEnabled)

	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "sentinel_test", cfg.Database.Database)
	assert.Equal(t, "secret123", cfg.Database.Password)

	assert.Equal(t, 10*time.Second, cfg.Policy.CacheTTL)
	assert.Equal(t, "2.1.0", cfg.Policy.MinAgentVersion)

	assert.Equal(t, "https://dlp.internal:8443", cfg.Agent.ServerURL)
	assert.Equal(t, 2*time.Second, cfg.Agent.DedupWindow)
	assert.Equal(t, "/var/lib/sentinel/quarantine", cfg.Agent.QuarantinePath)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sentinel.yaml")
	err := os.WriteFile(configPath, []byte("invalid: yaml: content::: broken"), 0644)
	require.NoError(t, err)

	_, err = config.Load(configPath)
	require.Error(t, err)
}

func TestServerConfigAddr(t *testing.T) {
	cfg := config.ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Username: "sentinel",
		Password: "secret",
		Database: "sentinel_db",
		SSLMode:  "require",
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "user=sentinel")
	assert.Contains(t, dsn, "dbname=sentinel_db")
	assert.Contains(t, dsn, "sslmode=require")
}
