package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Cache struct {
		Dir         string        `yaml:"dir"`
		BudgetBytes int64         `yaml:"budget_bytes"`
		HighWater   float64       `yaml:"high_water"`
		MaxAge      time.Duration `yaml:"max_age"`
	} `yaml:"cache"`
	Store struct {
		Driver        string `yaml:"driver"` // sqlite | postgres | redis | none
		SQLitePath    string `yaml:"sqlite_path"`
		PostgresDSN   string `yaml:"postgres_dsn"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"store"`
	Origin struct {
		Provider  string            `yaml:"provider"` // yahoo | rest
		BaseURL   string            `yaml:"base_url"`
		APIKey    string            `yaml:"api_key"`
		RateLimit float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
		Burst     int               `yaml:"burst"`
		Timeout   time.Duration     `yaml:"timeout"`
		SymbolMap map[string]string `yaml:"symbol_map"`
	} `yaml:"origin"`
	Fetch struct {
		BatchSize        int           `yaml:"batch_size"`
		BatchDelay       time.Duration `yaml:"batch_delay"`
		PromotionWorkers int           `yaml:"promotion_workers"`
		PromotionQueue   int           `yaml:"promotion_queue"`
	} `yaml:"fetch"`
	Schedule struct {
		SweepCron  string `yaml:"sweep_cron"`
		WarmCron   string `yaml:"warm_cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Warm struct {
		Symbols      []string `yaml:"symbols"`
		LookbackDays int      `yaml:"lookback_days"`
	} `yaml:"warm"`
	Recorder struct {
		SQLitePath string `yaml:"sqlite_path"` // empty disables run history
	} `yaml:"recorder"`
	Notify struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MARKETCACHE_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Store.RedisDB = db
	}
	if v := os.Getenv("ORIGIN_PROVIDER"); v != "" {
		c.Origin.Provider = v
	}
	if v := os.Getenv("ORIGIN_BASE_URL"); v != "" {
		c.Origin.BaseURL = v
	}
	if v := os.Getenv("ORIGIN_API_KEY"); v != "" {
		c.Origin.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.TelegramBotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.TelegramChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Origin.Provider = strings.ToLower(strings.TrimSpace(c.Origin.Provider))
	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/cache"
	}
	if c.Cache.BudgetBytes == 0 {
		c.Cache.BudgetBytes = 50 << 20
	}
	if c.Cache.HighWater == 0 {
		c.Cache.HighWater = 0.80
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = 7 * 24 * time.Hour
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/marketcache.db"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Origin.Provider == "" {
		c.Origin.Provider = "yahoo"
	}
	if c.Origin.Timeout == 0 {
		c.Origin.Timeout = 30 * time.Second
	}
	if c.Origin.Burst == 0 {
		c.Origin.Burst = 1
	}
	if c.Fetch.BatchSize == 0 {
		c.Fetch.BatchSize = 10
	}
	if c.Fetch.BatchDelay == 0 {
		c.Fetch.BatchDelay = 100 * time.Millisecond
	}
	if c.Fetch.PromotionWorkers == 0 {
		c.Fetch.PromotionWorkers = 1
	}
	if c.Fetch.PromotionQueue == 0 {
		c.Fetch.PromotionQueue = 256
	}
	if c.Schedule.SweepCron == "" {
		c.Schedule.SweepCron = "0 0 3 * * *"
	}
	if c.Schedule.WarmCron == "" {
		c.Schedule.WarmCron = "0 30 22 * * 1-5"
	}
	if c.Warm.LookbackDays == 0 {
		c.Warm.LookbackDays = 365
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// AlertsEnabled reports whether Telegram alerts are configured.
func (c *Config) AlertsEnabled() bool {
	return c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID != ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Cache.BudgetBytes <= 0 {
		return fmt.Errorf("cache.budget_bytes must be positive")
	}
	if c.Cache.HighWater <= 0 || c.Cache.HighWater > 1 {
		return fmt.Errorf("cache.high_water must be in (0, 1]")
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
		}
	case "redis":
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres, redis, none", c.Store.Driver)
	}
	switch c.Origin.Provider {
	case "yahoo":
	case "rest":
		if c.Origin.BaseURL == "" {
			return fmt.Errorf("origin.base_url is required for the rest provider")
		}
	default:
		return fmt.Errorf("origin.provider %q is not one of yahoo, rest", c.Origin.Provider)
	}
	if c.Origin.RateLimit < 0 {
		return fmt.Errorf("origin.rate_limit must not be negative")
	}
	if c.Fetch.BatchSize < 1 {
		return fmt.Errorf("fetch.batch_size must be at least 1")
	}
	if c.Fetch.BatchDelay < 0 {
		return fmt.Errorf("fetch.batch_delay must not be negative")
	}
	if c.Warm.LookbackDays < 1 {
		return fmt.Errorf("warm.lookback_days must be at least 1")
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		return fmt.Errorf("notify.telegram_bot_token and notify.telegram_chat_id must be set together")
	}
	return nil
}
