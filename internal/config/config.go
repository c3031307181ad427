package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSupabase = "supabase"
)

// Dispatch guards around "count + append".
const (
	GuardNone        = "none"
	GuardLocal       = "local"
	GuardRedis       = "redis"
	GuardTransaction = "transaction"
)

// Dispatch modes for a denied send.
const (
	ModeStrict     = "strict"
	ModePermissive = "permissive"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Email     EmailConfig     `mapstructure:"email"`
	Events    EventsConfig    `mapstructure:"events"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds per-IP HTTP throttling settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
}

// PostgresConfig holds the SQL connection settings.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// DispatchConfig controls how sends are rate limited.
type DispatchConfig struct {
	Mode       string `mapstructure:"mode"`
	Guard      string `mapstructure:"guard"`
	LockTTLMs  int    `mapstructure:"lock_ttl_ms"`
	LockWaitMs int    `mapstructure:"lock_wait_ms"`
	TxRetries  int    `mapstructure:"tx_retries"`
}

// DeliveryConfig toggles the async email delivery pipeline.
type DeliveryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// ReaperConfig holds stale delivery reaper settings (durations as seconds for YAML/env compat).
type ReaperConfig struct {
	IntervalSec       int `mapstructure:"interval_sec"`
	StaleThresholdSec int `mapstructure:"stale_threshold_sec"`
	BatchSize         int `mapstructure:"batch_size"`
}

// EmailConfig holds email provider settings.
type EmailConfig struct {
	APIKey       string `mapstructure:"api_key"`
	FromAddress  string `mapstructure:"from_address"`
	FromName     string `mapstructure:"from_name"`
	TemplatesDir string `mapstructure:"templates_dir"`
}

// EventsConfig holds domain event publishing settings.
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// TracingConfig holds OpenTelemetry exporter settings. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the NOTIFGATE_ prefix and underscore separators.
// Example: NOTIFGATE_DISPATCH_GUARD overrides dispatch.guard in config.yaml.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches . and ./config.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Load .env file if it exists
	_ = godotenv.Load()

	v.SetEnvPrefix("NOTIFGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "X-Request-ID"})
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.auto_migrate", true)
	v.SetDefault("storage.supabase.url", "")
	v.SetDefault("storage.supabase.service_key", "")
	v.SetDefault("dispatch.mode", ModeStrict)
	v.SetDefault("dispatch.guard", GuardLocal)
	v.SetDefault("dispatch.lock_ttl_ms", 5000)
	v.SetDefault("dispatch.lock_wait_ms", 2000)
	v.SetDefault("dispatch.tx_retries", 3)
	v.SetDefault("delivery.enabled", false)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("reaper.interval_sec", 300)       // 5 minutes
	v.SetDefault("reaper.stale_threshold_sec", 600) // 10 minutes
	v.SetDefault("reaper.batch_size", 50)
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.from_name", "")
	v.SetDefault("email.templates_dir", "")
	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "notifgate.notifications")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "notifgate")
	v.SetDefault("tracing.environment", "development")
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return errors.New("config: storage.postgres.dsn is required for the postgres driver")
		}
	case DriverSupabase:
		if c.Storage.Supabase.URL == "" || c.Storage.Supabase.ServiceKey == "" {
			return errors.New("config: storage.supabase.url and service_key are required for the supabase driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Dispatch.Mode {
	case ModeStrict, ModePermissive:
	default:
		return fmt.Errorf("config: unknown dispatch.mode %q", c.Dispatch.Mode)
	}

	switch c.Dispatch.Guard {
	case GuardNone, GuardLocal, GuardRedis:
	case GuardTransaction:
		if c.Storage.Driver != DriverPostgres {
			return errors.New("config: dispatch.guard=transaction requires storage.driver=postgres")
		}
	default:
		return fmt.Errorf("config: unknown dispatch.guard %q", c.Dispatch.Guard)
	}

	return nil
}
