// Package platform assembles the proctoring service: configuration, the
// session registry, the classifier, the broadcast hub, the archive, and the
// HTTP and MCP surfaces, with ordered startup and shutdown.
package platform

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete platform configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Database   DatabaseConfig   `yaml:"database"`
	Proctor    ProctorConfig    `yaml:"proctor"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AuthConfig configures proctor authentication. Leaving it empty disables
// the auth gate.
type AuthConfig struct {
	SigningKey        string        `yaml:"signing_key"`
	Issuer            string        `yaml:"issuer"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	AdminUsername     string        `yaml:"admin_username"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	APIKeys           []APIKeyDef   `yaml:"api_keys"`
}

// APIKeyDef defines a static API key.
type APIKeyDef struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// ClassifierConfig configures the external vision service.
type ClassifierConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the results archive database. An empty DSN
// disables archival.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ProctorConfig tunes session monitoring behavior.
type ProctorConfig struct {
	// ObserverBuffer bounds each observer's message queue.
	ObserverBuffer int `yaml:"observer_buffer"`
	// Heartbeat is the SSE keepalive interval.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// IdleTimeout stops students whose clients went silent.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// SweepInterval is how often idle students are collected.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MCPConfig configures the MCP inspection surface.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoadConfig reads, expands, and defaults a YAML config file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns a config with every default applied. Used when no
// config file is given.
func DefaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "proctor-platform"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Proctor.ObserverBuffer == 0 {
		cfg.Proctor.ObserverBuffer = 16
	}
	if cfg.Proctor.Heartbeat == 0 {
		cfg.Proctor.Heartbeat = 15 * time.Second
	}
	if cfg.Proctor.IdleTimeout == 0 {
		cfg.Proctor.IdleTimeout = 2 * time.Minute
	}
	if cfg.Proctor.SweepInterval == 0 {
		cfg.Proctor.SweepInterval = 30 * time.Second
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			errs = append(errs, "server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.key_file is required when TLS is enabled")
		}
	}

	if c.Auth.AdminUsername != "" {
		if c.Auth.SigningKey == "" {
			errs = append(errs, "auth.signing_key is required when admin login is configured")
		}
		if c.Auth.AdminPasswordHash == "" {
			errs = append(errs, "auth.admin_password_hash is required when admin login is configured")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if c.Proctor.IdleTimeout < c.Proctor.SweepInterval {
		errs = append(errs, "proctor.idle_timeout must not be shorter than proctor.sweep_interval")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// NewLogger builds a slog logger per the logging configuration.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
