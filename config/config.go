// Package config loads the zuul-build YAML configuration.
//
// Values may reference environment variables as ${NAME}; .env and
// .env.local files are loaded first without overriding the process
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/andrejsstepanovs/zuul-build/client"
	"github.com/andrejsstepanovs/zuul-build/retry"
	"github.com/andrejsstepanovs/zuul-build/sink"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFile     = "zuul.yaml"
	DefaultDelay    = 10 * time.Second
	DefaultTimeout  = time.Minute
	maxPageSize     = 1000
	defaultEmbedder = "none"
)

type Config struct {
	URL         string          `yaml:"url"`
	Token       string          `yaml:"token"`
	Timeout     time.Duration   `yaml:"timeout"`
	Delay       time.Duration   `yaml:"delay"`
	PageSize    uint32          `yaml:"page_size"`
	Retry       RetryConfig     `yaml:"retry"`
	Archive     string          `yaml:"archive"`
	NATS        NATSConfig      `yaml:"nats"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
}

// RetryConfig mirrors retry.Policy. Unset fields use the policy defaults.
type RetryConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
	MaxRetries *int          `yaml:"max_retries"`
	Jitter     *bool         `yaml:"jitter"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// EmbeddingConfig selects the provider used to index archived builds.
// URL and Token override the provider defaults.
type EmbeddingConfig struct {
	Client string `yaml:"client"`
	Model  string `yaml:"model"`
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// Load reads the configuration at path. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			slog.Debug("No configuration file, using defaults", "path", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("Failed to load environment file", "file", name, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "file", name)
	}
}

func applyDefaults(c *Config) {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Delay == 0 {
		c.Delay = DefaultDelay
	}
	if c.PageSize == 0 {
		c.PageSize = client.DefaultPageSize
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = sink.DefaultSubject
	}
	if c.Embedding.Client == "" {
		c.Embedding.Client = defaultEmbedder
	}
}

// Policy converts the retry settings into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	maxRetries := -1
	if r.MaxRetries != nil {
		maxRetries = *r.MaxRetries
	}
	jitter := true
	if r.Jitter != nil {
		jitter = *r.Jitter
	}
	return retry.NewPolicy(r.Initial, r.Multiplier, r.Max, maxRetries, jitter)
}

// Validate checks value ranges. The url is only checked when set; commands
// that need it call RequireURL.
func (c *Config) Validate() error {
	var errs []error
	if c.URL != "" {
		if _, err := client.ParseRootURL(c.URL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout cannot be negative"))
	}
	if c.Delay <= 0 {
		errs = append(errs, fmt.Errorf("delay must be >0"))
	}
	if c.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("page_size must be <=%d, got %d", maxPageSize, c.PageSize))
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry multiplier must be >=1, got %v", c.Retry.Multiplier))
	}
	if c.Retry.Initial < 0 || c.Retry.Max < 0 {
		errs = append(errs, fmt.Errorf("retry delays cannot be negative"))
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry max_retries cannot be negative"))
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RequireURL reports an error when no api url is configured.
func (c *Config) RequireURL() error {
	if c.URL == "" {
		return fmt.Errorf("the zuul api url is required (--url or url in %s)", DefaultFile)
	}
	return nil
}
