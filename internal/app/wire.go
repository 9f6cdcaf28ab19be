package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tradeflow/internal/blob/s3"
	"github.com/alanyoungcy/tradeflow/internal/cache/redis"
	"github.com/alanyoungcy/tradeflow/internal/config"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
	"github.com/alanyoungcy/tradeflow/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function. Fields are nil for modes that do not use them.
type Dependencies struct {
	Metrics *metrics.Registry

	// Postgres (coldpath, full)
	Postgres       *postgres.Client
	TradeStore     *postgres.TradeStore
	ReferenceStore domain.ReferenceStore

	// Redis (hotpath, full)
	Redis     *redis.Client
	Marks     *redis.MarkPriceCache
	Positions domain.PositionCache
	Bus       domain.SignalBus

	// S3 (ingest, coldpath, full)
	S3         *s3blob.Client
	BlobWriter *s3blob.Writer
	BlobReader *s3blob.Reader
	Archiver   *s3blob.Archiver
}

// needsPostgres returns true for modes that persist trades.
func needsPostgres(mode string) bool {
	return mode == "coldpath" || mode == "full"
}

// needsRedis returns true for modes that touch the hot-path cache.
func needsRedis(mode string) bool {
	return mode == "hotpath" || mode == "full"
}

// needsS3 returns true for modes that archive or export to object storage.
func needsS3(mode string) bool {
	return mode == "ingest" || mode == "coldpath" || mode == "full"
}

// Wire constructs the concrete infrastructure clients for the configured mode
// and returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(cfg.Mode),
	}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := migrateWithRetry(ctx, pgClient, logger); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Postgres = pgClient
		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
		deps.ReferenceStore = postgres.NewReferenceStore(pgClient.Pool())
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Marks = redis.NewMarkPriceCache(redisClient, deps.Metrics)
		deps.Positions = redis.NewPositionCache(redisClient, logger)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter)
	}

	return deps, cleanup, nil
}

// migrateWithRetry runs the embedded migrations with a bounded retry so a
// fresh deployment does not lose the race against the database container
// coming up.
func migrateWithRetry(ctx context.Context, client *postgres.Client, logger *slog.Logger) error {
	const attempts = 5

	var err error
	for i := 1; i <= attempts; i++ {
		if err = client.RunMigrations(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("migrations failed, retrying",
			slog.Int("attempt", i),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return err
}
