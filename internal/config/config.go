// Package config loads the service configuration from a YAML file and
// SANDBOXD_* environment variables, with sensible defaults for every
// knob so the server runs with zero configuration on a dev machine.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SandboxConfig struct {
	PythonImage    string        `mapstructure:"python_image"`
	NodeImage      string        `mapstructure:"node_image"`
	MemoryLimitMB  int64         `mapstructure:"memory_limit_mb"`
	CPULimit       float64       `mapstructure:"cpu_limit"`
	Timeout        time.Duration `mapstructure:"timeout"`
	InstallTimeout time.Duration `mapstructure:"install_timeout"`
	MaxInstances   int           `mapstructure:"max_instances"`
	OutputCapKB    int64         `mapstructure:"output_cap_kb"`
	FetchCapMB     int64         `mapstructure:"fetch_cap_mb"`
	InstallNetwork string        `mapstructure:"install_network"`
	WorkspaceBase  string        `mapstructure:"workspace_base"`
}

type AuthConfig struct {
	// JWTSecret signs access tokens; leaving it empty disables the auth
	// endpoints entirely (useful for local development).
	JWTSecret string `mapstructure:"jwt_secret"`

	// Bootstrap key seeded at startup when all three fields are set.
	BootstrapKeyID     string `mapstructure:"bootstrap_key_id"`
	BootstrapKeyName   string `mapstructure:"bootstrap_key_name"`
	BootstrapKeySecret string `mapstructure:"bootstrap_key_secret"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load reads config.yaml (if present) and the environment, applies
// defaults, and validates the result. Environment variables use the
// SANDBOXD_ prefix with underscores for nesting, e.g.
// SANDBOXD_SANDBOX_TIMEOUT=45s overrides sandbox.timeout.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sandboxd")

	v.SetEnvPrefix("SANDBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file means "run on defaults"; anything else is a
		// broken file the operator needs to know about.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("sandbox.python_image", "python:3.12-slim")
	v.SetDefault("sandbox.node_image", "node:20-alpine")
	v.SetDefault("sandbox.memory_limit_mb", 256)
	v.SetDefault("sandbox.cpu_limit", 0.5)
	v.SetDefault("sandbox.timeout", 30*time.Second)
	v.SetDefault("sandbox.install_timeout", 60*time.Second)
	v.SetDefault("sandbox.max_instances", 8)
	v.SetDefault("sandbox.output_cap_kb", 1024)
	v.SetDefault("sandbox.fetch_cap_mb", 32)
	v.SetDefault("sandbox.install_network", "bridge")
	v.SetDefault("sandbox.workspace_base", "")

	v.SetDefault("storage.db_path", "sandboxd.db")
}

func (c *Config) validate() error {
	if c.Sandbox.MemoryLimitMB <= 0 {
		return fmt.Errorf("sandbox.memory_limit_mb must be positive, got %d", c.Sandbox.MemoryLimitMB)
	}
	if c.Sandbox.CPULimit <= 0 {
		return fmt.Errorf("sandbox.cpu_limit must be positive, got %g", c.Sandbox.CPULimit)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.InstallTimeout <= 0 {
		return fmt.Errorf("sandbox.install_timeout must be positive, got %s", c.Sandbox.InstallTimeout)
	}
	if c.Sandbox.MaxInstances <= 0 {
		return fmt.Errorf("sandbox.max_instances must be positive, got %d", c.Sandbox.MaxInstances)
	}
	if c.Sandbox.OutputCapKB <= 0 {
		return fmt.Errorf("sandbox.output_cap_kb must be positive, got %d", c.Sandbox.OutputCapKB)
	}
	if c.Sandbox.FetchCapMB <= 0 {
		return fmt.Errorf("sandbox.fetch_cap_mb must be positive, got %d", c.Sandbox.FetchCapMB)
	}
	return nil
}
