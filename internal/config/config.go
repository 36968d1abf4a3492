// Package config loads gateway settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"modelcache-gateway/internal/analytics"
	"modelcache-gateway/internal/gateway"
)

type Config struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// RedisAddr is dialed only for the redis analytics backend.
	RedisAddr string           `yaml:"redis_addr"`
	Analytics analytics.Config `yaml:"analytics"`
	Cache     CacheConfig      `yaml:"cache"`
	Providers []ProviderConfig `yaml:"providers"`
}

type CacheConfig struct {
	WriteTimeout    time.Duration           `yaml:"write_timeout"`
	ReadFailureMode gateway.ReadFailureMode `yaml:"read_failure_mode"`
}

// ProviderConfig is one OpenAI-compatible upstream. The API key is read from
// the environment variable named by APIKeyEnv, never from the file.
type ProviderConfig struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	APIKey     string        `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port:            "8080",
		RequestTimeout:  60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    2 * 1024 * 1024,
		RedisAddr:       "127.0.0.1:6379",
		Analytics: analytics.Config{
			Backend: analytics.BackendDisabled,
			ClickHouse: analytics.ClickHouseConfig{
				URL:      "http://127.0.0.1:8123",
				Database: "default",
			},
			SQLite: analytics.SQLiteConfig{Path: "modelcache.db"},
			Redis:  analytics.RedisConfig{Prefix: "modelcache"},
		},
		Cache: CacheConfig{
			WriteTimeout:    30 * time.Second,
			ReadFailureMode: gateway.FailOpen,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PORT", &c.Port)
	str("REDIS_ADDR", &c.RedisAddr)
	str("ANALYTICS_BACKEND", &c.Analytics.Backend)
	str("CLICKHOUSE_URL", &c.Analytics.ClickHouse.URL)
	str("CLICKHOUSE_DATABASE", &c.Analytics.ClickHouse.Database)
	str("CLICKHOUSE_USER", &c.Analytics.ClickHouse.Username)
	str("CLICKHOUSE_PASSWORD", &c.Analytics.ClickHouse.Password)
	str("SQLITE_PATH", &c.Analytics.SQLite.Path)

	if err := dur("REQUEST_TIMEOUT", &c.RequestTimeout); err != nil {
		return err
	}
	if err := dur("CACHE_WRITE_TIMEOUT", &c.Cache.WriteTimeout); err != nil {
		return err
	}
	if v, ok := lookup("MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup("CACHE_READ_FAILURE_MODE"); ok {
		mode, err := gateway.ParseReadFailureMode(v)
		if err != nil {
			return err
		}
		c.Cache.ReadFailureMode = mode
	}

	// Without a providers section, LLM_* describe a single "openai" provider.
	if len(c.Providers) == 0 {
		p := ProviderConfig{Name: "openai", BaseURL: "https://api.openai.com", Model: "gpt-4o-mini"}
		str("LLM_BASE_URL", &p.BaseURL)
		str("LLM_MODEL", &p.Model)
		c.Providers = []ProviderConfig{p}
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "LLM_API_KEY"
		}
		str(p.APIKeyEnv, &p.APIKey)
	}
	return nil
}

// Validate checks values that would otherwise fail late and normalizes the
// ones with a canonical spelling.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	mode, err := gateway.ParseReadFailureMode(string(c.Cache.ReadFailureMode))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Cache.ReadFailureMode = mode

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
