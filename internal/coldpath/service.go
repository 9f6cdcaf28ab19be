package coldpath

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/codec"
	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// Config tunes the cold-path buffer and retry policy.
type Config struct {
	// BatchSize flushes the buffer when it reaches this many records
	// (default 5000).
	BatchSize int

	// MaxAge bounds how long the oldest buffered record waits. The consumer
	// drives this through its commit interval and the pre-commit flush;
	// Service itself only checks it opportunistically (default 5s).
	MaxAge time.Duration

	// FlushTimeout is the per-attempt deadline on the bulk insert
	// (default 60s).
	FlushTimeout time.Duration

	// Retry policy for transient insert failures: exponential backoff from
	// RetryInitial doubling up to RetryMax, at most RetryAttempts tries
	// (defaults 1s, 30s, 5).
	RetryInitial  time.Duration
	RetryMax      time.Duration
	RetryAttempts int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 60 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
}

// pending pairs an enriched trade with the log record it came from, so a
// record that fails alone can be dead-lettered with its original bytes.
type pending struct {
	trade domain.EnrichedTrade
	rec   domain.Record
}

// Service buffers enriched trades and persists them in idempotent bulk
// inserts. It is driven by a single consumer goroutine; no internal
// locking.
type Service struct {
	cfg      Config
	store    domain.TradeStore
	enricher *Enricher
	dlq      *dlq.Writer
	metrics  *metrics.Registry
	logger   *slog.Logger

	buf    []pending
	oldest time.Time

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires the cold-path service.
func New(cfg Config, store domain.TradeStore, enricher *Enricher, dlqWriter *dlq.Writer, m *metrics.Registry, logger *slog.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		store:    store,
		enricher: enricher,
		dlq:      dlqWriter,
		metrics:  m,
		logger:   logger.With(slog.String("component", "coldpath")),
		buf:      make([]pending, 0, cfg.BatchSize),
		sleep:    sleepCtx,
	}
}

// Handle decodes, enriches and buffers one record. The record is considered
// disposed once buffered because Flush runs before every offset commit.
func (s *Service) Handle(ctx context.Context, rec domain.Record) error {
	t, err := codec.DecodeEnvelope(rec.Value)
	if err != nil {
		s.dlq.Write(ctx, rec, err, 0, nil)
		return nil
	}
	if err := t.Validate(); err != nil {
		s.dlq.Write(ctx, rec, err, 0, nil)
		return nil
	}

	if len(s.buf) == 0 {
		s.oldest = time.Now()
	}
	s.buf = append(s.buf, pending{trade: s.enricher.Enrich(t), rec: rec})

	switch {
	case len(s.buf) >= s.cfg.BatchSize:
		return s.flush(ctx, "size")
	case time.Since(s.oldest) >= s.cfg.MaxAge:
		return s.flush(ctx, "age")
	}
	return nil
}

// Flush drains the buffer. The consumer calls it immediately before every
// offset commit, including the shutdown commit, so nothing uncommitted is
// lost and nothing unflushed is committed.
func (s *Service) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	return s.flush(ctx, "drain")
}

func (s *Service) flush(ctx context.Context, trigger string) error {
	batch := s.buf
	s.buf = make([]pending, 0, s.cfg.BatchSize)

	start := time.Now()
	if err := s.persist(ctx, batch); err != nil {
		return err
	}
	s.metrics.BatchFlushes.WithLabelValues(trigger).Inc()
	s.metrics.FlushLatency.Observe(time.Since(start).Seconds())
	return nil
}

// persist runs the retry ladder for one batch. On exhaustion the batch is
// split and re-tried per record; lone failures become DLQ envelopes. Only
// cancellation errors propagate.
func (s *Service) persist(ctx context.Context, batch []pending) error {
	trades := make([]domain.EnrichedTrade, len(batch))
	for i, p := range batch {
		trades[i] = p.trade
	}

	insert := func(ctx context.Context, trades []domain.EnrichedTrade) (int64, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
		defer cancel()
		return s.store.InsertBatch(attemptCtx, trades)
	}

	backoff := s.cfg.RetryInitial
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		inserted, err := insert(ctx, trades)
		if err == nil {
			s.metrics.TradesPersisted.Add(float64(inserted))
			if dup := int64(len(trades)) - inserted; dup > 0 {
				s.logger.Debug("duplicate exec_ids skipped", slog.Int64("count", dup))
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !domain.Transient(err) {
			break
		}

		s.metrics.BatchRetries.Inc()
		s.logger.WarnContext(ctx, "bulk insert failed, backing off",
			slog.Int("attempt", attempt),
			slog.Int("batch", len(trades)),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > s.cfg.RetryMax {
			backoff = s.cfg.RetryMax
		}
	}

	s.logger.ErrorContext(ctx, "bulk insert exhausted retries, splitting batch",
		slog.Int("batch", len(batch)),
		slog.String("error", lastErr.Error()),
	)
	return s.splitAndSink(ctx, batch)
}

// splitAndSink retries each record individually so one poisoned row cannot
// take its batch down with it. Records that still fail go to the DLQ.
func (s *Service) splitAndSink(ctx context.Context, batch []pending) error {
	for _, p := range batch {
		inserted, err := s.store.InsertBatch(ctx, []domain.EnrichedTrade{p.trade})
		if err == nil {
			s.metrics.TradesPersisted.Add(float64(inserted))
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.dlq.Write(ctx, p.rec, err, s.cfg.RetryAttempts,
			map[string]string{"exec_id": p.trade.ExecID})
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
