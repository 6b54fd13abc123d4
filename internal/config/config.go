// Package config provides configuration loading for patternbank.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "PATTERNBANK_"
)

// Config is the full patternbank configuration.
type Config struct {
	Workspace     WorkspaceConfig     `koanf:"workspace"`
	Registry      RegistryConfig      `koanf:"registry"`
	Anonymize     AnonymizeConfig     `koanf:"anonymize"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// WorkspaceConfig locates the pattern workspace.
type WorkspaceConfig struct {
	// Root is the project directory holding .workflow/. Empty means the
	// current working directory.
	Root string `koanf:"root"`

	// DeprecationDays is the age in days past which an untouched pattern is
	// reported deprecated.
	DeprecationDays int `koanf:"deprecation_days"`
}

// RegistryConfig configures the registry client.
type RegistryConfig struct {
	// BaseURL of the registry API. The PATTERNBANK_REGISTRY_URL variable
	// takes precedence when set.
	BaseURL string `koanf:"base_url"`

	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

// AnonymizeConfig configures the scrub pipeline.
type AnonymizeConfig struct {
	// UserAllowlistPath is an optional user-level allowlist file merged with
	// the project's .patternbank-allow.toml.
	UserAllowlistPath string `koanf:"user_allowlist_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// ObservabilityConfig controls OTLP export.
type ObservabilityConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// Protocol is grpc (default) or http/protobuf.
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS on the OTLP connection, for local collectors.
	Insecure bool `koanf:"insecure"`
}

// Load reads configuration from the YAML file at configPath, then overrides
// with PATTERNBANK_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (PATTERNBANK_REGISTRY_BASE_URL, ...)
//  2. YAML config file (~/.config/patternbank/config.yaml by default)
//  3. Defaults
//
// The config file must be private (0600 or 0400) and under 1MB.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "patternbank", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU
		// race between the permission check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFile(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PATTERNBANK_REGISTRY_BASE_URL -> registry.base_url
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// EnsureConfigDir creates ~/.config/patternbank with owner-only permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "patternbank")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigFile checks permissions and size of an existing config file.
func validateConfigFile(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills missing values.
func applyDefaults(cfg *Config) {
	if cfg.Workspace.DeprecationDays == 0 {
		cfg.Workspace.DeprecationDays = 365
	}

	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = 30 * time.Second
	}
	if cfg.Registry.MaxRetries == 0 {
		cfg.Registry.MaxRetries = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "patternbank"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
}

// Validate rejects unusable configurations.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Workspace.DeprecationDays < 0 {
		return fmt.Errorf("deprecation_days cannot be negative")
	}
	if c.Registry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// DeprecationThreshold converts the configured day count to a duration.
func (c *Config) DeprecationThreshold() time.Duration {
	return time.Duration(c.Workspace.DeprecationDays) * 24 * time.Hour
}
