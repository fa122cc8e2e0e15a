// ABOUTME: Configuration loading and parsing for metasave
// ABOUTME: YAML or TOML files with environment variable expansion, defaults and validation

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/metasave/internal/genesis"
	"github.com/2389/metasave/internal/store"
)

// Default listen addresses.
const (
	DefaultGRPCAddr        = "0.0.0.0:50061"
	DefaultHTTPAddr        = "0.0.0.0:8090"
	DefaultShutdownTimeout = 10 * time.Second
	MinJWTSecretLen        = 32
)

// Config represents the complete metasave configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Genesis   genesis.Config  `yaml:"genesis" toml:"genesis"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve HTTP API over tailnet TLS on :443
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // memory | sqlite | sqlite3 | leveldb
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds caller identity configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	SSHAuth   bool   `yaml:"ssh_auth" toml:"ssh_auth"`

	// Insecure trusts the x-metasave-account header instead of verifying a
	// credential. Development only.
	Insecure bool `yaml:"insecure" toml:"insecure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and the
// database at dbPath.
func Default(dbPath string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr: DefaultGRPCAddr,
			HTTPAddr: DefaultHTTPAddr,
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			Path:   dbPath,
		},
		Auth: AuthConfig{SSHAuth: true},
	}
	cfg.applyDefaults()
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets deployment environments move the database
// without editing the file.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("METASAVE_DB_PATH"); p != "" {
		c.Database.Path = p
	}
	if d := os.Getenv("METASAVE_DB_DRIVER"); d != "" {
		c.Database.Driver = d
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = store.DriverSQLite
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !slices.Contains(store.ValidDrivers, c.Database.Driver) {
		return fmt.Errorf("database.driver %q is not one of %s", c.Database.Driver, strings.Join(store.ValidDrivers, ", "))
	}
	if c.Database.Driver != store.DriverMemory && c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.SSHAuth && !c.Auth.Insecure {
		return fmt.Errorf("auth: set jwt_secret, enable ssh_auth, or enable insecure mode")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if err := c.Genesis.Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Server.ShutdownTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
		cfg.Server.ShutdownTimeout = d
	}
	return nil
}

// Path returns the config file location.
// Priority: METASAVE_CONFIG env var > XDG_CONFIG_HOME/metasave/config.yaml > ~/.config/metasave/config.yaml
func Path() string {
	if envPath := os.Getenv("METASAVE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "metasave.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "metasave", "config.yaml")
}

// DataPath returns the metasave data directory.
// Priority: XDG_DATA_HOME/metasave > ~/.local/share/metasave
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "metasave")
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	if c.Server.ShutdownTimeoutRaw == "" && c.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeoutRaw = c.Server.ShutdownTimeout.String()
	}
	return yaml.Marshal(c)
}
