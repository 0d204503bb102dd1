package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds server configuration.
type Config struct {
	Port         string      `yaml:"port"`
	LogLevel     string      `yaml:"log_level"`
	DatabaseURL  string      `yaml:"database_url"`
	DataDir      string      `yaml:"data_dir"`
	StoreBackend string      `yaml:"store_backend"`
	Redis        RedisConfig `yaml:"redis"`
	RateLimit    RateLimit   `yaml:"rate_limit"`
	BidPolicy    string      `yaml:"bid_policy"`
	OTel         OTelConfig  `yaml:"otel"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type OTelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

func defaults() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "INFO",
		DataDir:   "data",
		Redis:     RedisConfig{Addr: "localhost:6379"},
		RateLimit: RateLimit{RPS: 20, Burst: 40},
		OTel:      OTelConfig{Endpoint: "localhost:4317"},
	}
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	c := defaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.resolveBackend()
	return c, c.Validate()
}

// LoadFile overlays the YAML file at path on the defaults. Environment
// variables take precedence over the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	c := defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.resolveBackend()
	return c, c.Validate()
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Port)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("DATABASE_URL", &c.DatabaseURL)
	setString("DATA_DIR", &c.DataDir)
	setString("STORE_BACKEND", &c.StoreBackend)
	setString("REDIS_ADDR", &c.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("BID_POLICY", &c.BidPolicy)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTel.Endpoint)

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTel.Enabled = v == "true" || v == "1"
	}
	return nil
}

// resolveBackend picks the lite-mode default when no backend was named.
func (c *Config) resolveBackend() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	if c.StoreBackend != "" {
		return
	}
	if c.DatabaseURL != "" {
		c.StoreBackend = BackendPostgres
	} else {
		c.StoreBackend = BackendSQLite
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store backend %q requires DATABASE_URL", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps=%v burst=%d)", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
