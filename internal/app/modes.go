package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeflow/internal/breaker"
	"github.com/alanyoungcy/tradeflow/internal/coldpath"
	"github.com/alanyoungcy/tradeflow/internal/config"
	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/feed"
	"github.com/alanyoungcy/tradeflow/internal/hotpath"
	"github.com/alanyoungcy/tradeflow/internal/ingest"
	"github.com/alanyoungcy/tradeflow/internal/kafka"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
	"github.com/alanyoungcy/tradeflow/internal/refdata"
	"github.com/alanyoungcy/tradeflow/internal/server"
	"github.com/alanyoungcy/tradeflow/internal/server/ws"
)

// IngestMode runs the gateway feed, raw archive, and trade publisher.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startIngest(ctx, g, deps); err != nil {
		return err
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// HotPathMode runs the flash position engine and the price-update consumer.
func (a *App) HotPathMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting hotpath mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startHotPath(ctx, g, deps); err != nil {
		return err
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, hub)
	}

	return g.Wait()
}

// ColdPathMode runs the persistence batcher and the daily compliance export.
func (a *App) ColdPathMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting coldpath mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startColdPath(ctx, g, deps); err != nil {
		return err
	}
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// FullMode runs all three services in one process, sharing one set of
// infrastructure clients.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startIngest(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startHotPath(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startColdPath(ctx, g, deps); err != nil {
		return err
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, hub)
	}

	return g.Wait()
}

// startIngest wires the gateway websocket feed into the raw-trade topic.
func (a *App) startIngest(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	trades := a.newProducer(a.cfg.Kafka.Topics.Trades)
	dlqWriter := a.newDLQWriter("ingest", deps)

	archiveCB := a.newBreaker(breaker.HighAvailability("archive"), a.cfg.Breakers.Archive, deps.Metrics)

	source := feed.NewGatewayWSFeed(a.cfg.Ingest.GatewayURL, a.cfg.Ingest.GatewayID, a.logger)
	svc := ingest.New(source, deps.Archiver, archiveCB, trades, dlqWriter, deps.Metrics, a.logger)
	source.OnMalformed = svc.HandleMalformed

	g.Go(func() error {
		return svc.Run(ctx)
	})
	return nil
}

// startHotPath wires the trade and price consumers into the position engine.
func (a *App) startHotPath(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	dlqWriter := a.newDLQWriter("hotpath", deps)

	markCB := a.newBreaker(breaker.Storage("marks"), a.cfg.Breakers.Marks, deps.Metrics)
	cacheCB := a.newBreaker(breaker.Storage("cache"), a.cfg.Breakers.Cache, deps.Metrics)

	engine := hotpath.New(deps.Marks, deps.Positions, markCB, cacheCB, dlqWriter, deps.Metrics, a.logger)
	tradeConsumer := kafka.NewConsumer(
		a.consumerConfig(a.cfg.Kafka.Topics.Trades, a.cfg.Kafka.Groups.HotPath),
		deps.Metrics, a.logger,
	)
	g.Go(func() error {
		return tradeConsumer.Run(ctx, engine.Handle)
	})

	prices := hotpath.NewPriceConsumer(deps.Marks, dlqWriter, deps.Metrics, a.logger)
	priceConsumer := kafka.NewConsumer(
		a.consumerConfig(a.cfg.Kafka.Topics.Prices, a.cfg.Kafka.Groups.Prices),
		deps.Metrics, a.logger,
	)
	g.Go(func() error {
		return priceConsumer.Run(ctx, prices.Handle)
	})

	return nil
}

// startColdPath wires the persistence batcher, reference refresh loop, and
// the daily export.
func (a *App) startColdPath(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	dlqWriter := a.newDLQWriter("coldpath", deps)

	dicts := refdata.New(deps.ReferenceStore, a.cfg.ColdPath.RefRefresh.Duration, a.logger)
	if err := dicts.Load(ctx); err != nil {
		return fmt.Errorf("coldpath: load reference data: %w", err)
	}
	g.Go(func() error {
		return dicts.Run(ctx)
	})

	enricher := coldpath.NewEnricher(dicts, deps.Metrics, a.logger)
	svc := coldpath.New(coldpath.Config{
		BatchSize:     a.cfg.ColdPath.BatchSize,
		MaxAge:        a.cfg.ColdPath.MaxAge.Duration,
		FlushTimeout:  a.cfg.ColdPath.FlushTimeout.Duration,
		RetryInitial:  a.cfg.ColdPath.RetryInitial.Duration,
		RetryMax:      a.cfg.ColdPath.RetryMax.Duration,
		RetryAttempts: a.cfg.ColdPath.RetryAttempts,
	}, deps.TradeStore, enricher, dlqWriter, deps.Metrics, a.logger)

	// The commit interval doubles as the batch age trigger: every offset
	// commit is preceded by a flush, so buffered trades are durable before
	// their offsets pass.
	consumerCfg := a.consumerConfig(a.cfg.Kafka.Topics.Trades, a.cfg.Kafka.Groups.ColdPath)
	consumerCfg.CommitEvery = a.cfg.ColdPath.BatchSize
	consumerCfg.CommitInterval = a.cfg.ColdPath.MaxAge.Duration
	consumer := kafka.NewConsumer(consumerCfg, deps.Metrics, a.logger)
	consumer.BeforeCommit = svc.Flush

	g.Go(func() error {
		return consumer.Run(ctx, svc.Handle)
	})

	if a.cfg.Export.Enabled {
		exporter := coldpath.NewExporter(deps.TradeStore, deps.BlobWriter, deps.BlobReader, a.logger)
		g.Go(func() error {
			return exporter.Run(ctx)
		})
	}

	return nil
}

// startServer adds the operational HTTP server to the errgroup, with
// readiness checks for every wired dependency.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	pingers := make(map[string]server.Pinger)
	if deps.Postgres != nil {
		pingers["postgres"] = deps.Postgres.Pool().Ping
	}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		pingers["s3"] = deps.S3.Health
	}

	srv := server.New(server.Config{Port: a.cfg.Server.Port}, deps.Metrics.Prometheus(), pingers, hub, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// newProducer builds a producer for one topic from the shared tuning knobs
// and registers its close.
func (a *App) newProducer(topic string) *kafka.Producer {
	p := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    a.cfg.Kafka.Brokers,
		Topic:      topic,
		Acks:       a.cfg.Kafka.Producer.Acks,
		LingerMS:   a.cfg.Kafka.Producer.LingerMS,
		BatchBytes: a.cfg.Kafka.Producer.BatchBytes,
		MaxRetries: a.cfg.Kafka.Producer.MaxRetries,
	}, a.logger)
	a.closers = append(a.closers, func() { _ = p.Close() })
	return p
}

// newDLQWriter builds a dead-letter writer for one service over its own
// producer to the shared DLQ topic.
func (a *App) newDLQWriter(service string, deps *Dependencies) *dlq.Writer {
	return dlq.NewWriter(service, a.newProducer(a.cfg.Kafka.Topics.DLQ), deps.Metrics, a.logger)
}

// consumerConfig builds a consumer config for one topic and group from the
// shared tuning knobs.
func (a *App) consumerConfig(topic, group string) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:         a.cfg.Kafka.Brokers,
		Topic:           topic,
		GroupID:         group,
		AutoOffsetReset: a.cfg.Kafka.Consumer.AutoOffsetReset,
		CommitEvery:     a.cfg.Kafka.Consumer.CommitEvery,
		CommitInterval:  a.cfg.Kafka.Consumer.CommitInterval.Duration,
		MinBytes:        a.cfg.Kafka.Consumer.MinBytes,
		MaxBytes:        a.cfg.Kafka.Consumer.MaxBytes,
		SessionTimeout:  a.cfg.Kafka.Consumer.SessionTimeout.Duration,
	}
}

// newBreaker builds a breaker from a preset plus config overrides, with its
// transitions driving the per-breaker state gauge.
func (a *App) newBreaker(base breaker.Config, o config.BreakerConfig, m *metrics.Registry) *breaker.Breaker {
	cfg := overrideBreaker(base, o)
	gauge := m.BreakerState.WithLabelValues(cfg.Name)
	gauge.Set(float64(breaker.StateClosed))
	cfg.OnStateChange = func(_, next breaker.State, _ error, _ time.Time) {
		gauge.Set(float64(next))
	}
	return breaker.New(cfg, a.logger)
}

// overrideBreaker applies the configured non-zero fields on top of a preset.
func overrideBreaker(base breaker.Config, o config.BreakerConfig) breaker.Config {
	if o.FailureThreshold > 0 {
		base.FailureThreshold = o.FailureThreshold
	}
	if o.FailureWindow.Duration > 0 {
		base.FailureWindow = o.FailureWindow.Duration
	}
	if o.OpenDuration.Duration > 0 {
		base.OpenDuration = o.OpenDuration.Duration
	}
	if o.SuccessThreshold > 0 {
		base.SuccessThreshold = o.SuccessThreshold
	}
	return base
}
