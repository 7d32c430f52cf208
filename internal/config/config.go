package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes every environment override, e.g. DOCJOB_DB_HOST
	EnvPrefix = "DOCJOB_"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	App       AppConfig       `yaml:"app" envPrefix:"APP_"`
	Worker    WorkerConfig    `yaml:"worker" envPrefix:"WORKER_"`
	Reaper    ReaperConfig    `yaml:"reaper" envPrefix:"REAPER_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Converter ConverterConfig `yaml:"converter" envPrefix:"CONVERTER_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	// Driver is "postgres" (lib/pq) or "pgx"
	Driver               string        `yaml:"driver" env:"DRIVER"`
	Host                 string        `yaml:"host" env:"HOST"`
	Port                 int           `yaml:"port" env:"PORT"`
	User                 string        `yaml:"user" env:"USER"`
	Password             string        `yaml:"password" env:"PASSWORD"`
	Database             string        `yaml:"database" env:"NAME"`
	SSLMode              string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns         int           `yaml:"max_open_conns"`
	MaxIdleConns         int           `yaml:"max_idle_conns"`
	ConnMaxLifetime      time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime      time.Duration `yaml:"conn_max_idle_time"`
	StartupRetryAttempts int           `yaml:"startup_retry_attempts"`
	StartupRetryInterval time.Duration `yaml:"startup_retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	// Enabled turns on job.enqueued notifications
	Enabled    bool             `yaml:"enabled" env:"ENABLED"`
	Host       string           `yaml:"host" env:"HOST"`
	Port       int              `yaml:"port" env:"PORT"`
	User       string           `yaml:"user" env:"USER"`
	Password   string           `yaml:"password" env:"PASSWORD"`
	VHost      string           `yaml:"vhost" env:"VHOST"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	Tag           string `yaml:"tag"`
	PrefetchCount int    `yaml:"prefetch_count"`
}

// RedisConfig holds the status cache connection
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color" env:"NO_COLOR"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// WorkerConfig holds the poller configuration
type WorkerConfig struct {
	// ID identifies this worker in logs; defaults to the hostname
	ID           string        `yaml:"id" env:"ID"`
	PollSize     int           `yaml:"poll_size" env:"POLL_SIZE"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// JobTimeout bounds a single conversion; zero means no limit
	JobTimeout            time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	CompleteRetryAttempts int           `yaml:"complete_retry_attempts"`
	CompleteRetryInterval time.Duration `yaml:"complete_retry_interval"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// ReaperConfig holds retention settings
type ReaperConfig struct {
	// Enabled defaults to true when unset
	Enabled   *bool         `yaml:"enabled" env:"ENABLED"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
	// ErrorTTL enables reclamation of errored jobs; zero keeps them
	ErrorTTL time.Duration `yaml:"error_ttl" env:"ERROR_TTL"`
	// ClaimTimeout requeues claimed jobs that never reached in progress
	ClaimTimeout time.Duration `yaml:"claim_timeout" env:"CLAIM_TIMEOUT"`
}

// IsEnabled reports whether the reaper should run
func (r ReaperConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// StorageConfig holds the artifact root shared with the conversion backend
type StorageConfig struct {
	RootDir string `yaml:"root_dir" env:"ROOT_DIR"`
}

// ConverterConfig holds the conversion backend endpoint
type ConverterConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Load reads the configuration file, applies DOCJOB_* environment overrides
// and fills defaults for unset values
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.StartupRetryAttempts <= 0 {
		c.Database.StartupRetryAttempts = 3
	}
	if c.Database.StartupRetryInterval <= 0 {
		c.Database.StartupRetryInterval = 15 * time.Second
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.RabbitMQ.Consumer.PrefetchCount <= 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 10
	}
	if c.RabbitMQ.Publish.RetryAttempts <= 0 {
		c.RabbitMQ.Publish.RetryAttempts = 3
	}
	if c.RabbitMQ.Publish.BackoffMultiplier <= 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2
	}

	if c.Redis.StatusTTL <= 0 {
		c.Redis.StatusTTL = 30 * time.Minute
	}

	if c.Worker.PollSize <= 0 {
		c.Worker.PollSize = 3
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 15 * time.Second
	}
	if c.Worker.CompleteRetryAttempts <= 0 {
		c.Worker.CompleteRetryAttempts = 3
	}
	if c.Worker.CompleteRetryInterval <= 0 {
		c.Worker.CompleteRetryInterval = time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Reaper.Interval <= 0 {
		c.Reaper.Interval = 15 * time.Second
	}
	if c.Reaper.TTL <= 0 {
		c.Reaper.TTL = 30 * time.Minute
	}
	if c.Reaper.BatchSize <= 0 {
		c.Reaper.BatchSize = 10
	}
	if c.Reaper.ClaimTimeout <= 0 {
		c.Reaper.ClaimTimeout = 5 * time.Minute
	}

	if c.Storage.RootDir == "" {
		c.Storage.RootDir = "../FileData"
	}
	if c.Converter.Timeout <= 0 {
		c.Converter.Timeout = 5 * time.Minute
	}
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("unsupported database driver: %q (must be postgres or pgx)", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}

		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}

		if c.RabbitMQ.Queue.Name == "" {
			return errors.New("rabbitmq queue name is required")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required")
	}

	if c.Storage.RootDir == "" {
		return errors.New("storage root_dir is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxUploadBytes < 0 {
		return errors.New("server max_upload_bytes must not be negative")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.PollSize <= 0 {
		return errors.New("worker poll_size must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return errors.New("worker poll_interval must be greater than 0")
	}

	if c.Worker.JobTimeout < 0 {
		return errors.New("worker job_timeout must not be negative")
	}

	if c.Reaper.IsEnabled() {
		if c.Reaper.TTL <= 0 {
			return errors.New("reaper ttl must be greater than 0")
		}

		if c.Reaper.BatchSize <= 0 {
			return errors.New("reaper batch_size must be greater than 0")
		}

		if c.Reaper.ErrorTTL < 0 {
			return errors.New("reaper error_ttl must not be negative")
		}

		retryWindow := time.Duration(c.Worker.CompleteRetryAttempts) * c.Worker.CompleteRetryInterval
		if c.Reaper.ClaimTimeout < 0 || (c.Reaper.ClaimTimeout > 0 && c.Reaper.ClaimTimeout <= retryWindow) {
			return errors.New("reaper claim_timeout must exceed the worker status retry window")
		}
	}

	if c.Converter.BaseURL == "" {
		return errors.New("converter base_url is required")
	}

	return nil
}
