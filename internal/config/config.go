// Package config provides configuration loading and management for capsule.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvEnvironment       = "CAPSULE_ENV"
	EnvEnvironmentLegacy = "RACK_ENV"
	EnvRedisURL          = "REDIS_URL"
	EnvRedisToGoURL      = "REDISTOGO_URL"
)

// DefaultRedisURL is used when neither the environment nor the file names a store.
const DefaultRedisURL = "redis://127.0.0.1:6379/"

// Named environments and the database index each one is pinned to.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
	EnvironmentTest        = "test"

	fallbackDB = 9
)

var environmentDB = map[string]int{
	EnvironmentProduction:  7,
	EnvironmentDevelopment: 8,
	EnvironmentTest:        9,
}

// Config represents the complete application configuration.
type Config struct {
	Environment string         `yaml:"environment"`
	Redis       RedisConfig    `yaml:"redis"`
	Listener    ListenerConfig `yaml:"listener"`
	Server      ServerConfig   `yaml:"server"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Relay       RelayConfig    `yaml:"relay"`
	Archive     ArchiveConfig  `yaml:"archive"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Logger      LoggerConfig   `yaml:"logger"`
}

// RedisConfig holds the default store endpoint.
type RedisConfig struct {
	URL string `yaml:"url"`

	// DB is the database index. Nil means derive it from the environment.
	DB *int `yaml:"db"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ListenerConfig holds listener loop settings.
type ListenerConfig struct {
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	StopIdle         bool          `yaml:"stop_idle"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings for the relay.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	IngestTopic   string   `yaml:"ingest_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RelayConfig selects which channels are mirrored to Kafka and where
// ingested Kafka messages are published.
type RelayConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Channels      []string `yaml:"channels"`
	IngestChannel string   `yaml:"ingest_channel"`
}

// ArchiveConfig selects the channels recorded by the archive and its backend.
type ArchiveConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Backend  string   `yaml:"backend"` // "memory" or "postgres"
	Channels []string `yaml:"channels"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified YAML file path, then applies
// environment overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		// Clean the path to prevent path traversal attacks
		cleanPath := filepath.Clean(path)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables onto the file configuration.
func applyEnv(cfg *Config) {
	if env := os.Getenv(EnvEnvironment); env != "" {
		cfg.Environment = env
	} else if env := os.Getenv(EnvEnvironmentLegacy); env != "" {
		cfg.Environment = env
	}

	if url := os.Getenv(EnvRedisURL); url != "" {
		cfg.Redis.URL = url
	} else if url := os.Getenv(EnvRedisToGoURL); url != "" {
		cfg.Redis.URL = url
	}
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentDevelopment
	}

	// Redis defaults
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = DefaultRedisURL
	}
	if cfg.Redis.DB == nil {
		db := DBForEnvironment(cfg.Environment)
		cfg.Redis.DB = &db
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}

	// Listener defaults
	if cfg.Listener.ReconnectBackoff == 0 {
		cfg.Listener.ReconnectBackoff = 10 * time.Second
	}
	if cfg.Listener.PollTimeout == 0 {
		cfg.Listener.PollTimeout = time.Second
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "capsule-messages"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "capsule-relay"
	}

	// Archive defaults
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = "memory"
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 10
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 2
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Redis.DB != nil && *c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative, got %d", *c.Redis.DB)
	}
	if c.Archive.Backend != "memory" && c.Archive.Backend != "postgres" {
		return fmt.Errorf("archive.backend must be memory or postgres, got %q", c.Archive.Backend)
	}
	if c.Relay.Enabled && len(c.Relay.Channels) == 0 && c.Kafka.IngestTopic == "" {
		return fmt.Errorf("relay is enabled but neither relay.channels nor kafka.ingest_topic is set")
	}
	if c.Relay.Enabled && len(c.Relay.Channels) > 0 && c.Kafka.IngestTopic == c.Kafka.Topic {
		return fmt.Errorf("kafka.ingest_topic must differ from kafka.topic, got %q for both", c.Kafka.Topic)
	}
	return nil
}

// DBForEnvironment returns the database index pinned to a named environment,
// or the fallback index for any other name.
func DBForEnvironment(env string) int {
	if db, ok := environmentDB[env]; ok {
		return db
	}
	return fallbackDB
}

// DBIndex returns the resolved database index.
func (c *RedisConfig) DBIndex() int {
	if c.DB == nil {
		return fallbackDB
	}
	return *c.DB
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnString returns the PostgreSQL connection URL.
func (c *PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.MaxOpenConns,
	)
}
