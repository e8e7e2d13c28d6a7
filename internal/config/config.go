// Package config loads the optional ironclad.yaml configuration. Defaults
// are applied first, the file (if present) overrides them, and IRONCLAD_*
// environment variables override the file. Command-line flags take
// precedence over everything and are handled by the CLI.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/eniz1806/ironclad/internal/fault"
	"github.com/eniz1806/ironclad/internal/ioguard"
)

// Config is the CLI's runtime configuration.
type Config struct {
	// StorageDir is the directory holding one subdirectory per dataset.
	StorageDir string `yaml:"storage_dir"`
	// IOMode selects the durability profile: "strict" or "fast".
	IOMode string `yaml:"io_mode"`
	// DataShards and ParityShards are the defaults for write and insert.
	DataShards   int `yaml:"data_shards"`
	ParityShards int `yaml:"parity_shards"`
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageDir:   "storage",
		IOMode:       "strict",
		DataShards:   4,
		ParityShards: 4,
		LogLevel:     "info",
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty (the default name is tried); an explicitly named missing
// file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = "ironclad.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", fault.ErrBadInput, path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; defaults apply.
	default:
		return nil, fmt.Errorf("%w: read config %s: %v", fault.ErrBadInput, path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration before anything touches disk.
func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("%w: storage_dir cannot be empty", fault.ErrBadInput)
	}
	switch c.IOMode {
	case "strict", "fast":
	default:
		return fmt.Errorf("%w: io_mode must be strict or fast, got %q", fault.ErrBadInput, c.IOMode)
	}
	if c.DataShards < 1 || c.ParityShards < 1 || c.DataShards+c.ParityShards > 256 {
		return fmt.Errorf("%w: shard defaults out of range: data=%d parity=%d",
			fault.ErrBadInput, c.DataShards, c.ParityShards)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", fault.ErrBadInput, c.LogLevel)
	}
	return nil
}

// IOOptions maps the configured mode to guard options.
func (c *Config) IOOptions() ioguard.Options {
	if c.IOMode == "fast" {
		return ioguard.Fast()
	}
	return ioguard.Strict()
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IRONCLAD_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("IRONCLAD_IO_MODE"); v != "" {
		cfg.IOMode = v
	}
	if v := os.Getenv("IRONCLAD_DATA_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataShards = n
		}
	}
	if v := os.Getenv("IRONCLAD_PARITY_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ParityShards = n
		}
	}
	if v := os.Getenv("IRONCLAD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
