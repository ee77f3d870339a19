package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Trading  TradingConfig  `yaml:"trading"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig represents HTTP server settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig represents PostgreSQL settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig represents the ticker cache connection
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TradingConfig represents engine settings
type TradingConfig struct {
	FeeRate         string `yaml:"fee_rate"`
	QuoteCurrency   string `yaml:"quote_currency"`
	ScanIntervalSec int    `yaml:"scan_interval_seconds"`
}

// AuthConfig represents token signing settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads configuration from a YAML file with env overrides and
// fills in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.loadEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadEnvOverrides() {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Trading.FeeRate == "" {
		c.Trading.FeeRate = "0.0005"
	}
	if c.Trading.QuoteCurrency == "" {
		c.Trading.QuoteCurrency = "KRW"
	}
	if c.Trading.ScanIntervalSec == 0 {
		c.Trading.ScanIntervalSec = 2
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if _, err := decimal.NewFromString(c.Trading.FeeRate); err != nil {
		return fmt.Errorf("trading.fee_rate: %w", err)
	}
	return nil
}

// FeeRate returns the parsed fee rate. Load has already validated it.
func (c *Config) FeeRate() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Trading.FeeRate)
	return d
}

// ScanInterval returns the limit order scanner cadence.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Trading.ScanIntervalSec) * time.Second
}
