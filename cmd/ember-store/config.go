// ABOUTME: Configuration loading for the ember-store CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/emberchat/ember/internal/storage"
)

type Config struct {
	Storage StorageConfig `toml:"storage"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
	Backend string `toml:"backend"`
}

// configPath returns the CLI config location.
// Priority: EMBER_STORE_CONFIG env var > ~/.config/ember/store.toml
func configPath() string {
	if envPath := os.Getenv("EMBER_STORE_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "store.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "ember", "store.toml")
}

// loadConfig resolves the CLI configuration: the TOML file when present,
// then EMBER_DATA_DIR / EMBER_BACKEND overrides, then defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{Backend: string(storage.KindFlat)},
	}

	if data, err := os.ReadFile(configPath()); err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if dir := os.Getenv("EMBER_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if backend := os.Getenv("EMBER_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if cfg.Storage.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			cfg.Storage.DataDir = "ember-data"
		} else {
			cfg.Storage.DataDir = filepath.Join(base, "ember")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if _, err := storage.ParseKind(c.Storage.Backend); err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}
	return nil
}
