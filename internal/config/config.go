// ABOUTME: Configuration loading and parsing for authgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvConfigPath = "AUTHGATE_CONFIG"
	EnvDBPath     = "AUTHGATE_DB_PATH"
	EnvJWTSecret  = "AUTHGATE_JWT_SECRET"
)

// MinJWTSecretLength mirrors the token codec's minimum secret size.
const MinJWTSecretLength = 32

const (
	defaultTokenTTL    = time.Hour
	defaultMetricsPath = "/metrics"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// Config represents the complete authgate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Routes   []RouteConfig  `yaml:"routes" toml:"routes"`
	CORS     CORSConfig     `yaml:"cors" toml:"cors"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // empty disables the gRPC listener
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds token and password hashing configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" toml:"jwt_secret"`
	BcryptCost int           `yaml:"bcrypt_cost" toml:"bcrypt_cost"` // 0 selects bcrypt's default
	TokenTTL   time.Duration `yaml:"-" toml:"-"`

	// Raw string value for YAML/TOML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// RouteConfig is one entry of the ordered route authorization table.
type RouteConfig struct {
	Pattern     string   `yaml:"pattern" toml:"pattern"`
	Methods     []string `yaml:"methods" toml:"methods"`
	Requirement string   `yaml:"requirement" toml:"requirement"` // "public" or "authenticated"
}

// CORSConfig controls cross-origin access for browser clients.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" toml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials" toml:"allow_credentials"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set %s)", EnvJWTSecret)
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes, got %d", MinJWTSecretLength, len(c.Auth.JWTSecret))
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}

	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Pattern, "/") {
			return fmt.Errorf("routes[%d].pattern %q must start with /", i, r.Pattern)
		}
		switch strings.ToLower(strings.TrimSpace(r.Requirement)) {
		case "public", "authenticated":
		default:
			return fmt.Errorf("routes[%d].requirement %q must be public or authenticated", i, r.Requirement)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}
