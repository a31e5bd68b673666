package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "GPKGPARITY_CONFIG"

// Config holds all gpkgparity configuration.
type Config struct {
	// GeoPackage storage
	Storage StorageConfig `yaml:"storage"`

	// Parity field creation and the feature pass
	Processing ProcessingConfig `yaml:"processing"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and tunes the SQLite driver.
type StorageConfig struct {
	Driver      string `yaml:"driver"`       // sqlite (modernc, pure Go), sqlite3 (mattn, cgo)
	BusyTimeout string `yaml:"busy_timeout"` // how long to wait on a locked file
}

// ProcessingConfig configures the parity pass.
type ProcessingConfig struct {
	FieldPrefix string `yaml:"field_prefix"`
	FieldLength int    `yaml:"field_length"`
	// Workers > 1 computes parities for a batch of features concurrently.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      "sqlite",
			BusyTimeout: "5s",
		},

		Processing: ProcessingConfig{
			FieldPrefix: "parity-",
			FieldLength: 10,
			Workers:     1,
		},

		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if driver := os.Getenv("GPKGPARITY_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if workers := os.Getenv("GPKGPARITY_WORKERS"); workers != "" {
		// Ignore garbage rather than fail the run over it.
		if n, err := strconv.Atoi(strings.TrimSpace(workers)); err == nil {
			c.Processing.Workers = n
		}
	}
	if level := os.Getenv("GPKGPARITY_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
}

// GetBusyTimeout returns the SQLite busy timeout as a duration.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Storage.BusyTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ValidDrivers lists the supported SQLite drivers.
var ValidDrivers = []string{"sqlite", "sqlite3"}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidDrivers, c.Storage.Driver) {
		return fmt.Errorf("invalid storage driver: %s (valid: %v)", c.Storage.Driver, ValidDrivers)
	}
	if c.Storage.BusyTimeout != "" {
		if _, err := time.ParseDuration(c.Storage.BusyTimeout); err != nil {
			return fmt.Errorf("invalid busy_timeout %q: %w", c.Storage.BusyTimeout, err)
		}
	}

	// "even", "odd" must fit, and every parity field needs a distinct name.
	if c.Processing.FieldPrefix == "" {
		return fmt.Errorf("field_prefix must not be empty")
	}
	if c.Processing.FieldLength < 4 {
		return fmt.Errorf("field_length must be at least 4, got %d", c.Processing.FieldLength)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Processing.Workers)
	}

	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (valid: console, json)", c.Logging.Format)
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
