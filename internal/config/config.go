// Package config defines the top-level configuration for the tradeflow
// services and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEFLOW_* environment variables.
type Config struct {
	Kafka    KafkaConfig    `toml:"kafka"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	ColdPath ColdPathConfig `toml:"coldpath"`
	Export   ExportConfig   `toml:"export"`
	Breakers BreakersConfig `toml:"breakers"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KafkaConfig holds broker addresses, topic names, consumer group ids and the
// shared producer/consumer tuning knobs.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`

	Topics struct {
		Trades string `toml:"trades"`
		DLQ    string `toml:"dlq"`
		Prices string `toml:"prices"`
	} `toml:"topics"`

	Groups struct {
		HotPath  string `toml:"hotpath"`
		ColdPath string `toml:"coldpath"`
		Prices   string `toml:"prices"`
	} `toml:"groups"`

	Producer struct {
		Acks       string `toml:"acks"`
		LingerMS   int    `toml:"linger_ms"`
		BatchBytes int64  `toml:"batch_bytes"`
		MaxRetries int    `toml:"max_retries"`
	} `toml:"producer"`

	Consumer struct {
		AutoOffsetReset string   `toml:"auto_offset_reset"`
		CommitEvery     int      `toml:"commit_every"`
		CommitInterval  duration `toml:"commit_interval"`
		MinBytes        int      `toml:"min_bytes"`
		MaxBytes        int      `toml:"max_bytes"`
		SessionTimeout  duration `toml:"session_timeout"`
	} `toml:"consumer"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set, wins
// over the discrete fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig holds the execution-gateway feed parameters.
type IngestConfig struct {
	GatewayURL string `toml:"gateway_url"`
	GatewayID  string `toml:"gateway_id"`
}

// ColdPathConfig holds the persistence batcher and retry-ladder parameters.
type ColdPathConfig struct {
	BatchSize     int      `toml:"batch_size"`
	MaxAge        duration `toml:"max_age"`
	FlushTimeout  duration `toml:"flush_timeout"`
	RetryInitial  duration `toml:"retry_initial"`
	RetryMax      duration `toml:"retry_max"`
	RetryAttempts int      `toml:"retry_attempts"`
	RefRefresh    duration `toml:"ref_refresh"`
}

// ExportConfig controls the daily compliance export.
type ExportConfig struct {
	Enabled bool `toml:"enabled"`
}

// BreakerConfig overrides one circuit breaker's thresholds. Zero values fall
// back to the breaker package defaults.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	FailureWindow    duration `toml:"failure_window"`
	OpenDuration     duration `toml:"open_duration"`
	SuccessThreshold int      `toml:"success_threshold"`
}

// BreakersConfig names the three downstream breakers.
type BreakersConfig struct {
	Archive BreakerConfig `toml:"archive"`
	Marks   BreakerConfig `toml:"marks"`
	Cache   BreakerConfig `toml:"cache"`
}

// ServerConfig holds the operational HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	cfg := Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeflow",
			User:          "tradeflow",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeflow-archive",
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			GatewayURL: "ws://localhost:9443/executions",
			GatewayID:  "gw-1",
		},
		ColdPath: ColdPathConfig{
			BatchSize:     5000,
			MaxAge:        duration{5 * time.Second},
			FlushTimeout:  duration{60 * time.Second},
			RetryInitial:  duration{time.Second},
			RetryMax:      duration{30 * time.Second},
			RetryAttempts: 5,
			RefRefresh:    duration{15 * time.Minute},
		},
		Export:   ExportConfig{Enabled: true},
		Server:   ServerConfig{Enabled: true, Port: 8000},
		Mode:     "full",
		LogLevel: "info",
	}

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topics.Trades = "trades.raw"
	cfg.Kafka.Topics.DLQ = "trades.dlq"
	cfg.Kafka.Topics.Prices = "prices.updates"
	cfg.Kafka.Groups.HotPath = "tradeflow-hotpath"
	cfg.Kafka.Groups.ColdPath = "tradeflow-coldpath"
	cfg.Kafka.Groups.Prices = "tradeflow-prices"
	cfg.Kafka.Producer.Acks = "all"
	cfg.Kafka.Producer.LingerMS = 5
	cfg.Kafka.Producer.BatchBytes = 64 * 1024
	cfg.Kafka.Producer.MaxRetries = 10
	cfg.Kafka.Consumer.AutoOffsetReset = "earliest"
	cfg.Kafka.Consumer.CommitEvery = 100
	cfg.Kafka.Consumer.CommitInterval = duration{5 * time.Second}
	cfg.Kafka.Consumer.MinBytes = 1
	cfg.Kafka.Consumer.MaxBytes = 10 * 1024 * 1024
	cfg.Kafka.Consumer.SessionTimeout = duration{30 * time.Second}

	return cfg
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"ingest":   true,
	"hotpath":  true,
	"coldpath": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, hotpath, coldpath, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Kafka
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka: brokers must not be empty")
	}
	if c.Kafka.Topics.Trades == "" {
		errs = append(errs, "kafka: topics.trades must not be empty")
	}
	if c.Kafka.Topics.DLQ == "" {
		errs = append(errs, "kafka: topics.dlq must not be empty")
	}
	switch c.Kafka.Producer.Acks {
	case "", "all", "leader", "none":
	default:
		errs = append(errs, fmt.Sprintf("kafka: producer.acks must be all, leader or none, got %q", c.Kafka.Producer.Acks))
	}
	switch c.Kafka.Consumer.AutoOffsetReset {
	case "", "earliest", "latest":
	default:
		errs = append(errs, fmt.Sprintf("kafka: consumer.auto_offset_reset must be earliest or latest, got %q", c.Kafka.Consumer.AutoOffsetReset))
	}
	if c.Kafka.Consumer.CommitEvery < 1 {
		errs = append(errs, "kafka: consumer.commit_every must be >= 1")
	}

	// Postgres — required for coldpath and full modes.
	needsPostgres := c.Mode == "coldpath" || c.Mode == "full"
	if needsPostgres && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Ingest — required for ingest and full modes.
	if c.Mode == "ingest" || c.Mode == "full" {
		if c.Ingest.GatewayURL == "" {
			errs = append(errs, "ingest: gateway_url must not be empty")
		}
		if c.Ingest.GatewayID == "" {
			errs = append(errs, "ingest: gateway_id must not be empty")
		}
	}

	// ColdPath
	if c.ColdPath.BatchSize < 1 {
		errs = append(errs, "coldpath: batch_size must be >= 1")
	}
	if c.ColdPath.MaxAge.Duration <= 0 {
		errs = append(errs, "coldpath: max_age must be > 0")
	}
	if c.ColdPath.RetryAttempts < 1 {
		errs = append(errs, "coldpath: retry_attempts must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
