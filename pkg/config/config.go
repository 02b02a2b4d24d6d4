package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for sqlfence.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Guard configuration (SQL validation and tenant injection)
	Guard GuardConfig `yaml:"guard"`

	// Profiler configuration (query metrics ring buffer)
	Profiler ProfilerConfig `yaml:"profiler"`

	// MCP server configuration
	MCP MCPConfig `yaml:"mcp"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sqlfence"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"sqlfence"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// GuardConfig holds SQL guard settings.
type GuardConfig struct {
	// QueryTimeoutSeconds bounds every gateway entry point. Zero disables
	// the deadline.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"GUARD_QUERY_TIMEOUT_SECONDS" env-default:"30"`
	// TablesConfigPath points at a YAML file refining the multi-tenant /
	// system table classification. Empty keeps the built-in defaults.
	TablesConfigPath string `yaml:"tables_config_path" env:"GUARD_TABLES_CONFIG" env-default:""`
	// SetSessionTenant sets app.current_tenant_id inside transactions so
	// row-level security policies see the authoritative tenant.
	SetSessionTenant bool `yaml:"set_session_tenant" env:"GUARD_SET_SESSION_TENANT" env-default:"true"`
	// PersistAuditEvents writes security events to the audit_logs table in
	// addition to the structured log stream.
	PersistAuditEvents bool `yaml:"persist_audit_events" env:"GUARD_PERSIST_AUDIT_EVENTS" env-default:"true"`
	// AuditRetentionDays prunes persisted security events older than this
	// many days. Zero keeps events forever.
	AuditRetentionDays int `yaml:"audit_retention_days" env:"GUARD_AUDIT_RETENTION_DAYS" env-default:"90"`
}

// QueryTimeout returns the configured gateway deadline.
func (c *GuardConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// AuditRetention returns how long persisted audit events are kept.
func (c *GuardConfig) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// ProfilerConfig holds query profiler settings.
type ProfilerConfig struct {
	// Capacity is the size of the in-memory metrics ring buffer.
	Capacity int `yaml:"capacity" env:"PROFILER_CAPACITY" env-default:"1000"`
	// SlowQueryThresholdMs marks executions at or above this duration as slow.
	SlowQueryThresholdMs int `yaml:"slow_query_threshold_ms" env:"PROFILER_SLOW_QUERY_THRESHOLD_MS" env-default:"500"`
}

// SlowQueryThreshold returns the configured slow query cutoff.
func (c *ProfilerConfig) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

// MCPConfig holds MCP server settings.
type MCPConfig struct {
	// Enabled mounts the MCP endpoint on the HTTP server.
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
	// Path is where the streamable HTTP MCP endpoint is mounted.
	Path string `yaml:"path" env:"MCP_PATH" env-default:"/mcp"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. When no config.yaml exists, configuration comes from environment
// variables alone. The version parameter is injected at build time and set on
// the returned Config. Secrets (PGPASSWORD) must come from environment
// variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom reads configuration from the given YAML path, falling back to
// environment variables only when the file does not exist.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects settings the server cannot run with.
func (c *Config) validate() error {
	if c.Guard.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("guard.query_timeout_seconds must not be negative, got %d", c.Guard.QueryTimeoutSeconds)
	}
	if c.Guard.AuditRetentionDays < 0 {
		return fmt.Errorf("guard.audit_retention_days must not be negative, got %d", c.Guard.AuditRetentionDays)
	}
	if c.Profiler.Capacity <= 0 {
		return fmt.Errorf("profiler.capacity must be positive, got %d", c.Profiler.Capacity)
	}
	if c.Profiler.SlowQueryThresholdMs < 0 {
		return fmt.Errorf("profiler.slow_query_threshold_ms must not be negative, got %d", c.Profiler.SlowQueryThresholdMs)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns a PostgreSQL connection URL, the form the migration runner
// expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}
