// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuthSecret     string        `yaml:"auth_secret"` // HS256 key for bearer tokens; empty disables auth
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // product catalog cache ttl
}

// TokensConfig holds the token economy knobs.
type TokensConfig struct {
	DailyDefault           int64 `yaml:"daily_default"`
	SubscriptionPeriodDays int   `yaml:"subscription_period_days"`
	DailyRefillHourUTC     int   `yaml:"daily_refill_hour_utc"`
}

type RefillConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Attempts  int           `yaml:"attempts"`
	Workers   int           `yaml:"workers"`
	Interval  time.Duration `yaml:"interval"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

type StoreConfig struct {
	Mode    string        `yaml:"mode"` // http | static
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	RenewalInterval    time.Duration `yaml:"renewal_interval"`
	OrderSweepInterval time.Duration `yaml:"order_sweep_interval"`
	OrderStaleAfter    time.Duration `yaml:"order_stale_after"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Refill    RefillConfig    `yaml:"refill"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes raw yaml, applies env overrides and defaults, then validates.
func Parse(b []byte, dev bool) (*Config, error) {
	// hour 0 is a legal setting, so its default is seeded before decoding
	cfg := Config{Tokens: TokensConfig{DailyRefillHourUTC: 1}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		cfg.HTTP.AuthSecret = v
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Store.Mode == "http" && cfg.Store.BaseURL == "" {
		return nil, errors.New("store.base_url is required in http mode")
	}
	if cfg.HTTP.AuthSecret != "" && len(cfg.HTTP.AuthSecret) < 32 {
		return nil, errors.New("http.auth_secret must be at least 32 bytes")
	}
	if cfg.Tokens.DailyRefillHourUTC < 0 || cfg.Tokens.DailyRefillHourUTC > 23 {
		return nil, fmt.Errorf("tokens.daily_refill_hour_utc out of range: %d", cfg.Tokens.DailyRefillHourUTC)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Tokens.DailyDefault <= 0 {
		cfg.Tokens.DailyDefault = 30
	}
	if cfg.Tokens.SubscriptionPeriodDays <= 0 {
		cfg.Tokens.SubscriptionPeriodDays = 30
	}

	if cfg.Refill.BatchSize <= 0 {
		cfg.Refill.BatchSize = 100
	}
	if cfg.Refill.Attempts <= 0 {
		cfg.Refill.Attempts = 4
	}
	if cfg.Refill.Workers <= 0 {
		cfg.Refill.Workers = 8
	}
	if cfg.Refill.Interval <= 0 {
		cfg.Refill.Interval = 15 * time.Minute
	}
	if cfg.Refill.LockTTL <= 0 {
		cfg.Refill.LockTTL = 10 * time.Minute
	}

	if cfg.Store.Mode == "" {
		cfg.Store.Mode = "http"
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = 10 * time.Second
	}

	if cfg.Scheduler.RenewalInterval <= 0 {
		cfg.Scheduler.RenewalInterval = time.Hour
	}
	if cfg.Scheduler.OrderSweepInterval <= 0 {
		cfg.Scheduler.OrderSweepInterval = 10 * time.Minute
	}
	if cfg.Scheduler.OrderStaleAfter <= 0 {
		cfg.Scheduler.OrderStaleAfter = 24 * time.Hour
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
