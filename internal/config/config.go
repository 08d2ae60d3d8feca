package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Identity IdentityConfig `mapstructure:"identity"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeoutSec  int           `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int           `mapstructure:"write_timeout_sec"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type IdentityConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type CacheConfig struct {
	LocalSize     int           `mapstructure:"local_size"`
	LocalTTL      time.Duration `mapstructure:"local_ttl"`
	SharedTTL     time.Duration `mapstructure:"shared_ttl"`
	BatchChunk    int           `mapstructure:"batch_chunk"`
	LatencyWindow int           `mapstructure:"latency_window"`
}

type PipelineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PushRetryBase time.Duration `mapstructure:"push_retry_base"`
	PushRetryMax  int           `mapstructure:"push_retry_max"`
	SendBuffer    int           `mapstructure:"send_buffer"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_sec", 30)
	v.SetDefault("server.write_timeout_sec", 30)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("postgres.dsn", "postgres://localhost:5432/feedwire")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("identity.timeout_sec", 10)
	v.SetDefault("identity.retry_count", 3)
	v.SetDefault("identity.retry_delay_sec", 1)
	v.SetDefault("identity.rate_per_second", 25)
	v.SetDefault("cache.local_size", 1000)
	v.SetDefault("cache.local_ttl", 5*time.Minute)
	v.SetDefault("cache.shared_ttl", time.Hour)
	v.SetDefault("cache.batch_chunk", 50)
	v.SetDefault("cache.latency_window", 1000)
	v.SetDefault("pipeline.poll_interval", 3*time.Second)
	v.SetDefault("pipeline.push_retry_base", 2*time.Second)
	v.SetDefault("pipeline.push_retry_max", 5)
	v.SetDefault("pipeline.send_buffer", 256)
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("FEEDWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("identity.base_url", "FEEDWIRE_IDENTITY_BASE_URL")
	_ = v.BindEnv("postgres.dsn", "FEEDWIRE_POSTGRES_DSN")
	_ = v.BindEnv("redis.url", "FEEDWIRE_REDIS_URL")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity.base_url is required (set FEEDWIRE_IDENTITY_BASE_URL env var)")
	}
	if c.Cache.LocalSize < 1 {
		return fmt.Errorf("cache.local_size must be >= 1")
	}
	if c.Cache.BatchChunk < 1 {
		return fmt.Errorf("cache.batch_chunk must be >= 1")
	}
	if c.Pipeline.PollInterval < time.Second {
		return fmt.Errorf("pipeline.poll_interval must be >= 1s")
	}
	if c.Pipeline.PushRetryMax < 1 {
		return fmt.Errorf("pipeline.push_retry_max must be >= 1")
	}
	return nil
}
