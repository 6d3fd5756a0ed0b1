// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Directory, RateLimit, Digest, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Directory DirectoryConfig `yaml:"directory"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Digest    DigestConfig    `yaml:"digest"`
	Feed      FeedConfig      `yaml:"feed"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig selects the post store implementation ("postgres" or "memory").
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PostCreated string `yaml:"postCreated"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// DirectoryConfig points at the external user/profile provider.
type DirectoryConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	SecretKey        string        `yaml:"secretKey"`
	MaxBatch         int           `yaml:"maxBatch"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// AuthConfig controls verification of provider-issued session tokens.
// Exactly one of HMACSecret or PublicKeyPEM should be set.
type AuthConfig struct {
	Issuer       string `yaml:"issuer"`
	HMACSecret   string `yaml:"hmacSecret"`
	PublicKeyPEM string `yaml:"publicKeyPem"`
}

// RateLimitConfig holds the sliding-window parameters for post creation.
type RateLimitConfig struct {
	Window    time.Duration `yaml:"window"`
	Capacity  int           `yaml:"capacity"`
	KeyPrefix string        `yaml:"keyPrefix"`
	FailOpen  bool          `yaml:"failOpen"`
}

// DigestConfig controls image placeholder computation and caching.
type DigestConfig struct {
	Width          int           `yaml:"width"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
	MaxImageBytes  int64         `yaml:"maxImageBytes"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
}

// FeedConfig controls feed assembly policy.
type FeedConfig struct {
	PageSize       int  `yaml:"pageSize"`
	DegradeDigests bool `yaml:"degradeDigests"`
}

// TimeoutConfig bounds every call to an external dependency.
type TimeoutConfig struct {
	Store     time.Duration `yaml:"store"`
	Directory time.Duration `yaml:"directory"`
	Limiter   time.Duration `yaml:"limiter"`
	Digest    time.Duration `yaml:"digest"`
	Request   time.Duration `yaml:"request"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging for the read path.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.RateLimit.Window <= 0 {
		problems = append(problems, "rateLimit.window must be positive")
	}
	if c.RateLimit.Capacity <= 0 {
		problems = append(problems, "rateLimit.capacity must be positive")
	}
	if c.Directory.MaxBatch <= 0 || c.Directory.MaxBatch > 100 {
		problems = append(problems, "directory.maxBatch must be in [1, 100]")
	}
	if c.Feed.PageSize <= 0 || c.Feed.PageSize > 100 {
		problems = append(problems, "feed.pageSize must be in [1, 100]")
	}
	if c.Digest.Width <= 0 {
		problems = append(problems, "digest.width must be positive")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of postgres, memory", c.Store.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "chirp",
			User:            "chirp",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "chirp-digest-warmer",
			Topics: KafkaTopics{
				PostCreated: "post.created",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Directory: DirectoryConfig{
			BaseURL:          "https://api.clerk.com",
			MaxBatch:         100,
			RetryAttempts:    3,
			RetryDelay:       100 * time.Millisecond,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:    10 * time.Second,
			Capacity:  10,
			KeyPrefix: "ratelimit:post:",
		},
		Digest: DigestConfig{
			Width:          4,
			MaxConcurrency: 8,
			MaxImageBytes:  10 << 20,
		},
		Feed: FeedConfig{
			PageSize: 100,
		},
		Timeouts: TimeoutConfig{
			Store:     3 * time.Second,
			Directory: 5 * time.Second,
			Limiter:   500 * time.Millisecond,
			Digest:    5 * time.Second,
			Request:   20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CHIRP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHIRP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHIRP_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CHIRP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CHIRP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CHIRP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CHIRP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CHIRP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CHIRP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("CHIRP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CHIRP_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("CHIRP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CHIRP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CHIRP_DIRECTORY_BASE_URL"); v != "" {
		cfg.Directory.BaseURL = v
	}
	if v := os.Getenv("CHIRP_DIRECTORY_SECRET_KEY"); v != "" {
		cfg.Directory.SecretKey = v
	}
	if v := os.Getenv("CHIRP_AUTH_HMAC_SECRET"); v != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := os.Getenv("CHIRP_AUTH_PUBLIC_KEY_PEM"); v != "" {
		cfg.Auth.PublicKeyPEM = v
	}
	if v := os.Getenv("CHIRP_RATELIMIT_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit.FailOpen = b
		}
	}
	if v := os.Getenv("CHIRP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHIRP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
