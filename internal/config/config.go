package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fieldsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Backup     BackupConfig     `yaml:"backup"`
	Queue      QueueConfig      `yaml:"queue"`
	Health     HealthConfig     `yaml:"health"`
	Services   ServicesConfig   `yaml:"services"`
	Events     EventsConfig     `yaml:"events"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// Failover keeps the queue writable in memory while the primary backend is unavailable.
	Failover bool        `yaml:"failover"`
	Redis    RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type QueueConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	ListRetryInterval time.Duration `yaml:"list_retry_interval"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	Concurrency       int           `yaml:"concurrency"`
	Tick              time.Duration `yaml:"tick"`
	Backoff           BackoffConfig `yaml:"backoff"`
}

// BackoffConfig spaces automatic attempts of the same item.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Factor  float64       `yaml:"factor"`
}

type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ServicesConfig struct {
	Directus ServiceConfig `yaml:"directus"`
	EAS      ServiceConfig `yaml:"eas"`
	Wallet   ServiceConfig `yaml:"wallet"`
}

type ServiceConfig struct {
	URL        string  `yaml:"url"`
	Token      string  `yaml:"token"`
	Collection string  `yaml:"collection"`
	RateRPS    float64 `yaml:"rate_rps"`
	RateBurst  int     `yaml:"rate_burst"`
}

type EventsConfig struct {
	RedisRelay bool   `yaml:"redis_relay"`
	Channel    string `yaml:"channel"`
	DeadLetter string `yaml:"dead_letter"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional on devices; only a malformed file is an error.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Address == "" {
			return errors.New("redis address is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Services.Directus.URL == "" {
		return errors.New("directus url is required")
	}
	if c.Services.Directus.Collection == "" {
		return errors.New("directus collection is required")
	}
	if c.Services.EAS.URL == "" {
		return errors.New("eas url is required")
	}
	if c.Services.Wallet.URL == "" {
		return errors.New("wallet url is required")
	}

	if c.Queue.MaxRetries < 1 {
		return errors.New("queue.max_retries must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		return errors.New("queue.concurrency must be at least 1")
	}

	if c.API.Enabled && c.API.Auth.Enabled {
		return ValidateAPIKeys(c.API.Auth.APIKeys)
	}
	return nil
}

func ValidateAPIKeys(keys []APIClientKey) error {
	if len(keys) == 0 {
		return errors.New("api auth is enabled but no api keys are configured")
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// ValidateActions checks the action taxonomy for missing and duplicate ids.
func ValidateActions(actions []models.Action) error {
	ids := make(map[int64]bool)
	for _, a := range actions {
		if a.ID == 0 {
			return fmt.Errorf("action '%s' has invalid ID 0", a.Name)
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate action ID found: %d", a.ID)
		}
		ids[a.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldsync"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "fieldsync:"
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}

	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = models.DefaultMaxRetries
	}
	if c.Queue.ListRetryInterval == 0 {
		c.Queue.ListRetryInterval = models.DefaultListRetryInterval
	}
	if c.Queue.AttemptTimeout == 0 {
		c.Queue.AttemptTimeout = models.DefaultAttemptTimeout
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = models.DefaultConcurrency
	}
	if c.Queue.Tick == 0 {
		c.Queue.Tick = time.Second
	}
	if c.Queue.Backoff.Initial == 0 {
		c.Queue.Backoff.Initial = 5 * time.Second
	}
	if c.Queue.Backoff.Max == 0 {
		c.Queue.Backoff.Max = c.Queue.ListRetryInterval
	}
	if c.Queue.Backoff.Factor == 0 {
		c.Queue.Backoff.Factor = 2
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = models.DefaultHealthInterval
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = 5 * time.Second
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
