// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the kernel daemon configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Kernel configures the kernel daemon itself.
	Kernel KernelConfig `yaml:"kernel"`

	// Per-environment override sections, applied after the base
	// config is loaded.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Kernel *KernelConfig `yaml:"kernel,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Data is the base directory for persistent kernel state. The
	// SQLite database lives here.
	Data string `yaml:"data"`

	// Run is the runtime directory for the kernel socket.
	Run string `yaml:"run"`
}

// KernelConfig configures the kernel daemon.
type KernelConfig struct {
	// DatabaseFile is the SQLite database filename within the data
	// directory. Default: kernel.db
	DatabaseFile string `yaml:"database_file"`

	// PoolSize is the SQLite connection pool size. Zero means the
	// sqlitepool default.
	PoolSize int `yaml:"pool_size"`

	// PolicyFile is the path to the JSONC policy file. Empty means
	// the embedded default policy.
	PolicyFile string `yaml:"policy_file"`

	// SocketFile is the Unix socket filename within the run
	// directory. Default: kernel.sock
	SocketFile string `yaml:"socket_file"`

	// LogLevel is the slog level: debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible values before the file is merged in; the
// config file remains the source of truth.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "substrate")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Data: defaultRoot,
			Run:  "/run/substrate",
		},
		Kernel: KernelConfig{
			DatabaseFile: "kernel.db",
			PoolSize:     0,
			PolicyFile:   "",
			SocketFile:   "kernel.sock",
			LogLevel:     "info",
		},
	}
}

// Load loads configuration from the SUBSTRATE_CONFIG environment
// variable. If SUBSTRATE_CONFIG is not set, this fails — there are no
// fallback search paths.
func Load() (*Config, error) {
	configPath := os.Getenv("SUBSTRATE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SUBSTRATE_CONFIG environment variable not set; " +
			"set it to the path of your substrate.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applying
// environment-specific override sections after the base values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// DatabasePath returns the full path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.Data, c.Kernel.DatabaseFile)
}

// SocketPath returns the full path to the kernel Unix socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.Run, c.Kernel.SocketFile)
}

// LogLevel maps the configured level name to a slog level. validate
// has already rejected unknown names.
func (c *Config) LogLevel() slog.Level {
	switch c.Kernel.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyEnvironmentOverrides merges the section matching the active
// environment over the base values.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Paths != nil {
		c.Paths = *overrides.Paths
	}
	if overrides.Kernel != nil {
		c.Kernel = *overrides.Kernel
	}
}

// validate rejects configurations the daemon cannot run with.
func (c *Config) validate() error {
	switch c.Environment {
	case Development, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.Paths.Data == "" {
		return fmt.Errorf("paths.data is required")
	}
	if c.Paths.Run == "" {
		return fmt.Errorf("paths.run is required")
	}
	switch c.Kernel.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Kernel.LogLevel)
	}
	return nil
}
