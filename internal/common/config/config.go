// Package config loads ideate settings from defaults, an optional
// config.yaml, and IDEATE_ prefixed environment variables, in that order of
// precedence (later sources win).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for ideate.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	State    StateConfig    `mapstructure:"state"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds configuration for the per-session HTTP servers.
type ServerConfig struct {
	Host string `mapstructure:"host"`

	// Port pins the first session server to a fixed port.
	// 0 selects an ephemeral port per session (the default).
	Port int `mapstructure:"port"`

	// HeaderTimeout bounds how long a session server waits for request
	// headers, in seconds. Upgraded sockets manage their own deadlines
	// per message, so no other server level timeout applies to them.
	HeaderTimeout int `mapstructure:"headerTimeout"`
}

// StateConfig holds configuration for durable brainstorm state.
type StateConfig struct {
	// Dir is the directory for per-session state files.
	// Supports ~ expansion for home directory.
	Dir string `mapstructure:"dir"`

	// TemplatesDir is the directory for brainstorm template files.
	TemplatesDir string `mapstructure:"templatesDir"`
}

// BrowserConfig holds configuration for opening the participant browser.
type BrowserConfig struct {
	// Skip disables browser launching. Intended for automated tests.
	Skip bool `mapstructure:"skip"`

	// Command overrides the platform opener (e.g. "firefox").
	Command string `mapstructure:"command"`
}

// DatabaseConfig holds the brainstorm archive connection configuration.
type DatabaseConfig struct {
	// Driver selects the archive backend: "sqlite" (default) or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file. Supports ~ expansion.
	Path string `mapstructure:"path"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds the optional external event bus connection. An empty URL
// selects the in-process bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// MCPConfig holds configuration for the embedded MCP server.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds log level, format, and destination.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// HeaderTimeoutDuration returns the header timeout as a time.Duration.
func (s *ServerConfig) HeaderTimeoutDuration() time.Duration {
	return time.Duration(s.HeaderTimeout) * time.Second
}

// ExpandedDir returns the state directory with ~ expanded to the user's home directory.
func (s *StateConfig) ExpandedDir() (string, error) {
	return expandHome(s.Dir)
}

// ExpandedTemplatesDir returns the templates directory with ~ expanded.
func (s *StateConfig) ExpandedTemplatesDir() (string, error) {
	return expandHome(s.TemplatesDir)
}

// ExpandedPath returns the sqlite database path with ~ expanded.
func (d *DatabaseConfig) ExpandedPath() (string, error) {
	return expandHome(d.Path)
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// defaultLogFormat picks json for Kubernetes and production environments and
// human-readable text everywhere else.
func defaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("IDEATE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaults() map[string]any {
	return map[string]any{
		// Sessions bind ephemeral ports on the loopback interface.
		"server.host":          "127.0.0.1",
		"server.port":          0,
		"server.headerTimeout": 10,

		"state.dir":          "~/.ideate/brainstorms",
		"state.templatesDir": "~/.ideate/templates",

		"browser.skip":    false,
		"browser.command": "",

		// Archive on sqlite unless the postgres driver is selected.
		"database.driver":   "sqlite",
		"database.path":     "~/.ideate/archive.db",
		"database.host":     "localhost",
		"database.port":     5432,
		"database.user":     "ideate",
		"database.password": "",
		"database.dbName":   "ideate",
		"database.sslMode":  "disable",
		"database.maxConns": 25,
		"database.minConns": 5,

		"nats.url":           "",
		"nats.clientId":      "ideate-client",
		"nats.maxReconnects": 10,

		"mcp.enabled": true,
		"mcp.port":    9190,

		"logging.level":      "info",
		"logging.format":     defaultLogFormat(),
		"logging.outputPath": "stdout",
	}
}

// envOverrides maps config keys whose camelCase segment does not survive
// AutomaticEnv's dot to underscore translation onto their env var names.
var envOverrides = map[string]string{
	"state.templatesDir":   "IDEATE_STATE_TEMPLATES_DIR",
	"database.dbName":      "IDEATE_DATABASE_DB_NAME",
	"database.sslMode":     "IDEATE_DATABASE_SSL_MODE",
	"database.maxConns":    "IDEATE_DATABASE_MAX_CONNS",
	"database.minConns":    "IDEATE_DATABASE_MIN_CONNS",
	"nats.clientId":        "IDEATE_NATS_CLIENT_ID",
	"nats.maxReconnects":   "IDEATE_NATS_MAX_RECONNECTS",
	"server.headerTimeout": "IDEATE_SERVER_HEADER_TIMEOUT",
}

// Load reads configuration from config.yaml in the current directory or
// /etc/ideate/, layered with IDEATE_ environment variables.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is Load with an extra directory searched first for config.yaml.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("IDEATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envOverrides {
		_ = v.BindEnv(key, env)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ideate/")

	// A missing config file is fine; everything has a default.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

// validate collects every problem rather than stopping at the first, so a
// bad config file surfaces all its mistakes in one run.
func validate(cfg *Config) error {
	var errs []string

	// Port 0 means an ephemeral port per session.
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.State.Dir == "" {
		errs = append(errs, "state.dir is required")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.MCP.Enabled {
		if cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535 {
			errs = append(errs, "mcp.port must be between 1 and 65535")
		}
	}

	if !oneOf(cfg.Logging.Level, "debug", "info", "warn", "error") {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	if !oneOf(cfg.Logging.Format, "json", "text") {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
