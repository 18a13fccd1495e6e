package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Finnhub  FinnhubConfig  `mapstructure:"finnhub"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	News     NewsConfig     `mapstructure:"news"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	MockFeed MockFeedConfig `mapstructure:"mockfeed"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type FinnhubConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	WSURL        string        `mapstructure:"ws_url"`
	RestURL      string        `mapstructure:"rest_url"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
	TickBuffer   int           `mapstructure:"tick_buffer"`
}

type TrackerConfig struct {
	NumWorkers  int  `mapstructure:"num_workers"`
	QueueSize   int  `mapstructure:"queue_size"`
	LockShards  int  `mapstructure:"lock_shards"`
	PurgeOnBoot bool `mapstructure:"purge_on_boot"`
}

type NewsConfig struct {
	LookbackDays    int `mapstructure:"lookback_days"`
	DefaultPageSize int `mapstructure:"default_page_size"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

// MockFeedConfig drives the local Finnhub simulator
type MockFeedConfig struct {
	Port     string        `mapstructure:"port"`
	Interval time.Duration `mapstructure:"interval"`
	Tickers  []string      `mapstructure:"tickers"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT and friends are real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only maps flat env vars onto nested keys it has been told about
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "finnhub.api_key", "finnhub.ws_url", "finnhub.rest_url", "finnhub.quote_timeout",
		"finnhub.dial_timeout", "finnhub.reconnect_min", "finnhub.reconnect_max", "finnhub.tick_buffer")
	bindEnv(v, "tracker.num_workers", "tracker.queue_size", "tracker.lock_shards", "tracker.purge_on_boot")
	bindEnv(v, "news.lookback_days", "news.default_page_size")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "mockfeed.port", "mockfeed.interval", "mockfeed.tickers")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("finnhub.api_key", "")
	v.SetDefault("finnhub.ws_url", "wss://ws.finnhub.io")
	v.SetDefault("finnhub.rest_url", "https://finnhub.io/api/v1")
	v.SetDefault("finnhub.quote_timeout", 5*time.Second)
	v.SetDefault("finnhub.dial_timeout", 10*time.Second)
	v.SetDefault("finnhub.reconnect_min", 500*time.Millisecond)
	v.SetDefault("finnhub.reconnect_max", 30*time.Second)
	v.SetDefault("finnhub.tick_buffer", 1024)

	v.SetDefault("tracker.num_workers", 4)
	v.SetDefault("tracker.queue_size", 100)
	v.SetDefault("tracker.lock_shards", 64)
	v.SetDefault("tracker.purge_on_boot", true)

	v.SetDefault("news.lookback_days", 3)
	v.SetDefault("news.default_page_size", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("mockfeed.port", ":9090")
	v.SetDefault("mockfeed.interval", 250*time.Millisecond)
	v.SetDefault("mockfeed.tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN", "MSFT"})
}

// Validate checks the values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Tracker.NumWorkers <= 0 {
		return fmt.Errorf("tracker.num_workers must be positive, got %d", c.Tracker.NumWorkers)
	}
	if c.Tracker.LockShards <= 0 {
		return fmt.Errorf("tracker.lock_shards must be positive, got %d", c.Tracker.LockShards)
	}
	if c.Finnhub.QuoteTimeout <= 0 {
		return fmt.Errorf("finnhub.quote_timeout must be positive")
	}
	if c.Finnhub.APIKey == "" && c.App.Env != "local" {
		return fmt.Errorf("finnhub.api_key is required when app.env=%s", c.App.Env)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
