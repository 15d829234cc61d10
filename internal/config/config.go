// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML duration strings ("10m", "30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all service settings.
type Config struct {
	Addr             string   `yaml:"addr"`
	DBPath           string   `yaml:"db"`
	TokenTTL         Duration `yaml:"token_ttl"`
	BatchConcurrency int      `yaml:"batch_concurrency"`
	FetchRate        float64  `yaml:"fetch_rate"`  // store fetches/sec in batch mode, 0 = unlimited
	FetchBurst       int      `yaml:"fetch_burst"` // rate limiter burst
	ProbeInterval    Duration `yaml:"probe_interval"`

	// SigningSecret is the current admissibility-token signing secret.
	// RetiredSecrets verify tokens issued before a rotation. Neither is
	// ever logged or exposed through the API.
	SigningSecret  string   `yaml:"signing_secret"`
	RetiredSecrets []string `yaml:"retired_secrets"`
}

// Default returns the built-in defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Addr:             ":8370",
		DBPath:           filepath.Join(home, ".slicegate", "history.db"),
		TokenTTL:         Duration(10 * time.Minute),
		BatchConcurrency: 4,
		FetchRate:        50,
		FetchBurst:       10,
		ProbeInterval:    Duration(5 * time.Second),
	}
}

// Load reads the config file at path (optional, "" skips) and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SLICEGATE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SLICEGATE_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SLICEGATE_SIGNING_SECRET"); v != "" {
		cfg.SigningSecret = v
	}
	if v := os.Getenv("SLICEGATE_RETIRED_SECRETS"); v != "" {
		cfg.RetiredSecrets = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.RetiredSecrets = append(cfg.RetiredSecrets, s)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be >= 1, got %d", c.BatchConcurrency)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	if c.FetchRate < 0 {
		return fmt.Errorf("fetch_rate must be >= 0")
	}
	return nil
}
