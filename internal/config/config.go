package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the host's environment variables.
const envPrefix = "gantry"

// Config is the host configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	License LicenseConfig `yaml:"license"`
	Storage StorageConfig `yaml:"storage"`
	Plugins PluginsConfig `yaml:"plugins"`
}

// ServerConfig configures the admin API.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// LicenseConfig configures the license validator and its remote client.
type LicenseConfig struct {
	Endpoint    string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Secret      string        `yaml:"secret" envconfig:"SECRET"`
	UserID      string        `yaml:"user_id" envconfig:"USER_ID"`
	CacheTTL    time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
	GracePeriod time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD"`
}

// StorageConfig selects the plugin key-value store backend.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	Path   string `yaml:"path" envconfig:"PATH"`
}

// PluginsConfig configures plugin discovery and lifecycle defaults.
type PluginsConfig struct {
	// Paths are directories scanned for plugin.json manifests.
	Paths       []string      `yaml:"paths" envconfig:"PATHS"`
	AutoEnable  bool          `yaml:"auto_enable" envconfig:"AUTO_ENABLE"`
	HookTimeout time.Duration `yaml:"hook_timeout" envconfig:"HOOK_TIMEOUT"`
}

// Validation errors.
var (
	ErrInvalidPort    = errors.New("config: server port out of range")
	ErrInvalidDriver  = errors.New("config: unknown storage driver")
	ErrMissingDBPath  = errors.New("config: sqlite driver requires a path")
	ErrInvalidLevel   = errors.New("config: unknown log level")
	ErrMissingLicense = errors.New("config: license endpoint requires a secret")
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8321,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		License: LicenseConfig{
			CacheTTL:    5 * time.Minute,
			GracePeriod: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Plugins: PluginsConfig{
			AutoEnable:  true,
			HookTimeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then environment variables. Environment wins.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLevel, c.Logging.Level)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return ErrMissingDBPath
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}

	if c.License.Endpoint != "" && c.License.Secret == "" {
		return ErrMissingLicense
	}
	return nil
}

// Addr returns the admin API listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
