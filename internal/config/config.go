// ABOUTME: Configuration loading and parsing for ember storage hosts
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberchat/ember/internal/storage"
)

// Config is the complete host configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Locks   LocksConfig   `yaml:"locks"`
	Logging LoggingConfig `yaml:"logging"`
	Diag    DiagConfig    `yaml:"diag"`
}

// StorageConfig selects the data root and the active backend.
type StorageConfig struct {
	// DataDir is the application data root. Both backends, the lock files
	// and the shared event key all live under it.
	DataDir string `yaml:"data_dir"`
	// Backend names the backend to open at startup. The stored settings
	// take precedence once they exist; this is the bootstrap choice.
	Backend string `yaml:"backend"`
}

// LocksConfig tunes the advisory lock observability thresholds.
type LocksConfig struct {
	WaitingThreshold time.Duration `yaml:"-"`
	SlowThreshold    time.Duration `yaml:"-"`
	AcquireTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WaitingThresholdRaw string `yaml:"waiting_threshold"`
	SlowThresholdRaw    string `yaml:"slow_threshold"`
	AcquireTimeoutRaw   string `yaml:"acquire_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DiagConfig sizes the diagnostic event ring.
type DiagConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: string(storage.KindFlat),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// defaultDataDir places data under the user config directory, falling back
// to the working directory when the platform reports none.
func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "ember-data"
	}
	return base + string(os.PathSeparator) + "ember"
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. An unset variable expands to an empty
// string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if _, err := storage.ParseKind(c.Storage.Backend); err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Diag.Capacity < 0 {
		return fmt.Errorf("diag.capacity must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Locks.WaitingThresholdRaw != "" {
		cfg.Locks.WaitingThreshold, err = time.ParseDuration(cfg.Locks.WaitingThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing waiting_threshold %q: %w", cfg.Locks.WaitingThresholdRaw, err)
		}
	}

	if cfg.Locks.SlowThresholdRaw != "" {
		cfg.Locks.SlowThreshold, err = time.ParseDuration(cfg.Locks.SlowThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing slow_threshold %q: %w", cfg.Locks.SlowThresholdRaw, err)
		}
	}

	if cfg.Locks.AcquireTimeoutRaw != "" {
		cfg.Locks.AcquireTimeout, err = time.ParseDuration(cfg.Locks.AcquireTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing acquire_timeout %q: %w", cfg.Locks.AcquireTimeoutRaw, err)
		}
	}

	return nil
}
