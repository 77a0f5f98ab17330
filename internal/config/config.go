// Package config handles configuration loading from environment and files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for CyberSentinel services.
type Config struct {
	// Service identification
	Service   string `mapstructure:"service"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Policy engine configuration
	Policy PolicyConfig `mapstructure:"policy"`

	// Agent configuration
	Agent AgentConfig `mapstructure:"agent"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// TLS configuration
	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// APIKey protects the API when set; empty disables auth.
	APIKey string `mapstructure:"api_key"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PolicyConfig holds server-side policy evaluation configuration.
type PolicyConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MinAgentVersion string        `mapstructure:"min_agent_version"`
	QuarantinePath  string        `mapstructure:"quarantine_path"`
}

// AgentConfig holds endpoint agent configuration.
type AgentConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	APIKey            string        `mapstructure:"api_key"`
	AgentID           string        `mapstructure:"agent_id"`
	Name              string        `mapstructure:"name"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	QuarantineEnabled bool          `mapstructure:"quarantine_enabled"`
	QuarantinePath    string        `mapstructure:"quarantine_path"`
	FailedEventBuffer int           `mapstructure:"failed_event_buffer"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`

	// Fallback monitoring surface used when no synced policy declares paths.
	MonitoredPaths    []string `mapstructure:"monitored_paths"`
	ExcludedPaths     []string `mapstructure:"excluded_paths"`
	TrackedExtensions []string `mapstructure:"tracked_extensions"`
}

// Load loads configuration from environment variables and config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sentinel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentinel")
		v.AddConfigPath("$HOME/.sentinel")
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.tls_enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "sentinel")
	v.SetDefault("database.username", "sentinel")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Policy defaults
	v.SetDefault("policy.cache_ttl", 30*time.Second)
	v.SetDefault("policy.min_agent_version", "")
	v.SetDefault("policy.quarantine_path", "/quarantine")

	// Agent defaults
	v.SetDefault("agent.server_url", "http://localhost:8080")
	v.SetDefault("agent.heartbeat_interval", 30*time.Second)
	v.SetDefault("agent.sync_interval", 60*time.Second)
	v.SetDefault("agent.dedup_window", 5*time.Second)
	v.SetDefault("agent.max_file_size", int64(10<<20))
	v.SetDefault("agent.quarantine_enabled", false)
	v.SetDefault("agent.quarantine_path", "")
	v.SetDefault("agent.failed_event_buffer", 100)
	v.SetDefault("agent.request_timeout", 10*time.Second)
	v.SetDefault("agent.monitored_paths", []string{})
	v.SetDefault("agent.excluded_paths", []string{})
	v.SetDefault("agent.tracked_extensions", []string{})

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sample_rate", 0.1)
}

// Addr returns the server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}
