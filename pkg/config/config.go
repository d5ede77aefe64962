// Package config loads settings for the fence command line.
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

// Config defines runtime settings for the fence CLI.
type Config struct {
	// PolicyPath points at a YAML or JSONC policy. Empty means unrestricted.
	PolicyPath string        `yaml:"policy"`
	Timeout    time.Duration `yaml:"timeout"`
	LogLevel   string        `yaml:"logLevel"`
	LogFormat  string        `yaml:"logFormat"`
	// Output is "default" or "discard".
	Output      string `yaml:"output"`
	HistoryPath string `yaml:"historyPath"`
	// StateDir holds saved repl sessions.
	StateDir string `yaml:"stateDir"`
	// Command settings apply to programs calling System.run.
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	MaxOutput      int           `yaml:"maxCommandOutput"`
	Blocklist      []string      `yaml:"commandBlocklist"`
}

// Default returns the settings used when no file or environment overrides
// apply.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Timeout:        5 * time.Second,
		LogLevel:       "warn",
		LogFormat:      "auto",
		Output:         "default",
		HistoryPath:    filepath.Join(home, ".fence", "history"),
		StateDir:       filepath.Join(home, ".fence"),
		MaxOutput:      64 << 10,
		CommandTimeout: 2 * time.Second,
	}
}

// LoadConfig loads configuration from a YAML file and environment overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if policy := os.Getenv("FENCE_POLICY"); policy != "" {
		cfg.PolicyPath = policy
	}
	if timeout := os.Getenv("FENCE_TIMEOUT"); timeout != "" {
		d, err := ParseTimeout(timeout)
		if err != nil {
			return nil, fmt.Errorf("FENCE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if logLevel := os.Getenv("FENCE_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("FENCE_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if history := os.Getenv("FENCE_HISTORY"); history != "" {
		cfg.HistoryPath = history
	}
	if state := os.Getenv("FENCE_STATE_DIR"); state != "" {
		cfg.StateDir = state
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the CLI cannot use.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch c.Output {
	case "default", "discard":
	default:
		return fmt.Errorf("unknown output %q", c.Output)
	}
	if c.PolicyPath != "" {
		if _, err := os.Stat(c.PolicyPath); os.IsNotExist(err) {
			return fmt.Errorf("policy file does not exist: %s", c.PolicyPath)
		}
	}
	return nil
}

// ParseTimeout accepts Go durations and bare milliseconds.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// DefaultConfigPath returns the default location for the CLI config file.
func DefaultConfigPath() string {
	if path := os.Getenv("FENCE_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fence", "config.yaml")
}
