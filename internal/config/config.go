// ABOUTME: Configuration loading and parsing for context-vault
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete context-vault configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Mem0     Mem0Config     `yaml:"mem0"`
	Auth     AuthConfig     `yaml:"auth"`
	Grants   GrantsConfig   `yaml:"grants"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the consent ledger database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Mem0Config holds the remote memory backend configuration
type Mem0Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GrantsConfig holds access grant timing configuration
type GrantsConfig struct {
	DefaultTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Grants.DefaultTTLRaw != "" {
		d, err := time.ParseDuration(cfg.Grants.DefaultTTLRaw)
		if err != nil {
			return fmt.Errorf("invalid grants.default_ttl: %w", err)
		}
		cfg.Grants.DefaultTTL = d
	}

	return nil
}
