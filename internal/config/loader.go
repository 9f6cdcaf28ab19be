package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEFLOW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "TRADEFLOW_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topics.Trades, "TRADEFLOW_KAFKA_TOPIC_TRADES")
	setStr(&cfg.Kafka.Topics.DLQ, "TRADEFLOW_KAFKA_TOPIC_DLQ")
	setStr(&cfg.Kafka.Topics.Prices, "TRADEFLOW_KAFKA_TOPIC_PRICES")
	setStr(&cfg.Kafka.Producer.Acks, "TRADEFLOW_KAFKA_PRODUCER_ACKS")
	setInt(&cfg.Kafka.Consumer.CommitEvery, "TRADEFLOW_KAFKA_CONSUMER_COMMIT_EVERY")
	setDuration(&cfg.Kafka.Consumer.CommitInterval, "TRADEFLOW_KAFKA_CONSUMER_COMMIT_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEFLOW_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEFLOW_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setStr(&cfg.Ingest.GatewayURL, "TRADEFLOW_INGEST_GATEWAY_URL")
	setStr(&cfg.Ingest.GatewayID, "TRADEFLOW_INGEST_GATEWAY_ID")

	// ── ColdPath ──
	setInt(&cfg.ColdPath.BatchSize, "TRADEFLOW_COLDPATH_BATCH_SIZE")
	setDuration(&cfg.ColdPath.MaxAge, "TRADEFLOW_COLDPATH_MAX_AGE")
	setDuration(&cfg.ColdPath.FlushTimeout, "TRADEFLOW_COLDPATH_FLUSH_TIMEOUT")
	setInt(&cfg.ColdPath.RetryAttempts, "TRADEFLOW_COLDPATH_RETRY_ATTEMPTS")

	// ── Export ──
	setBool(&cfg.Export.Enabled, "TRADEFLOW_EXPORT_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEFLOW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEFLOW_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEFLOW_MODE")
	setStr(&cfg.LogLevel, "TRADEFLOW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
