package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// messageReader is the slice of *kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig enumerates consumer tuning options.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// AutoOffsetReset selects where a new group starts: "earliest" or
	// "latest" (default "earliest").
	AutoOffsetReset string

	// CommitEvery commits stored offsets after this many processed records
	// (default 100).
	CommitEvery int

	// CommitInterval commits stored offsets at least this often (default 5s).
	CommitInterval time.Duration

	// MinBytes / MaxBytes bound one fetch; MaxBytes also bounds consumer RAM.
	MinBytes int
	MaxBytes int

	// SessionTimeout is the group-membership liveness timeout.
	SessionTimeout time.Duration
}

// Consumer runs a fetch → handle → commit loop against one topic with a
// consumer-group identity. Auto-commit is disabled: offsets are stored only
// after the handler disposes of the record (sink or DLQ) and committed every
// CommitEvery records or CommitInterval, whichever comes first. Delivery is
// therefore at-least-once.
//
// Records from the same partition are handled serially in offset order;
// the loop itself is single-goroutine, so handlers need no internal locking
// for per-partition state.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	metrics *metrics.Registry

	commitEvery    int
	commitInterval time.Duration

	// BeforeCommit, when set, runs immediately before every offset commit,
	// including the shutdown flush. Handlers that buffer records (the cold
	// path's bulk writer) use it to drain the buffer so offsets never
	// advance past undurable work. An error skips the commit and stops the
	// loop; the uncommitted tail is redelivered on restart. Set before Run.
	BeforeCommit func(ctx context.Context) error
}

// NewConsumer creates a Consumer. The reader's own CommitInterval is zero,
// which makes CommitMessages synchronous.
func NewConsumer(cfg ConsumerConfig, m *metrics.Registry, logger *slog.Logger) *Consumer {
	startOffset := kafka.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = 30 * time.Second
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		SessionTimeout: sessionTimeout,
		CommitInterval: 0, // synchronous CommitMessages
	})

	commitEvery := cfg.CommitEvery
	if commitEvery <= 0 {
		commitEvery = 100
	}
	commitInterval := cfg.CommitInterval
	if commitInterval <= 0 {
		commitInterval = 5 * time.Second
	}

	return &Consumer{
		reader:  r,
		logger:  logger.With(slog.String("component", "consumer"), slog.String("topic", cfg.Topic), slog.String("group", cfg.GroupID)),
		metrics: m,

		commitEvery:    commitEvery,
		commitInterval: commitInterval,
	}
}

// Run consumes until ctx is cancelled. The handler must fully dispose of
// each record (sink or DLQ) before returning nil; a handler error stops the
// loop without committing the failed record, so it is redelivered on
// restart. A poisoned message is never a handler error — the handler routes
// it to the DLQ and returns nil.
func (c *Consumer) Run(ctx context.Context, handle domain.RecordHandler) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("reader close failed", slog.String("error", err.Error()))
		}
	}()

	var pending []kafka.Message
	lastCommit := time.Now()

	commit := func(ctx context.Context) error {
		if len(pending) == 0 {
			// Buffering handlers hold records only while their offsets are
			// pending, so there is nothing to flush either; just restart the
			// interval clock.
			lastCommit = time.Now()
			return nil
		}
		if c.BeforeCommit != nil {
			if err := c.BeforeCommit(ctx); err != nil {
				return fmt.Errorf("kafka: pre-commit flush: %w", err)
			}
		}
		if err := c.reader.CommitMessages(ctx, pending...); err != nil {
			return fmt.Errorf("kafka: commit offsets: %w", err)
		}
		c.metrics.OffsetCommits.Inc()
		pending = pending[:0]
		lastCommit = time.Now()
		return nil
	}

	for {
		// Bound the fetch by the commit interval so the age criterion fires
		// even when no records arrive.
		fetchCtx, cancel := context.WithDeadline(ctx, lastCommit.Add(c.commitInterval))
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// Flush stored offsets before exiting; use a fresh deadline since
			// ctx is usually already cancelled here.
			if ctx.Err() != nil {
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if cerr := commit(flushCtx); cerr != nil {
					c.logger.Error("offset flush on shutdown failed", slog.String("error", cerr.Error()))
				}
				return ctx.Err()
			}
			// The interval elapsed during a lull; commit what is pending and
			// keep fetching.
			if errors.Is(err, context.DeadlineExceeded) {
				if cerr := commit(ctx); cerr != nil {
					return cerr
				}
				continue
			}
			return fmt.Errorf("kafka: fetch: %w", err)
		}

		rec := domain.Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		}

		if err := handle(ctx, rec); err != nil {
			// Record not disposed; do not store its offset.
			if cerr := commit(ctx); cerr != nil {
				c.logger.Error("commit before stop failed", slog.String("error", cerr.Error()))
			}
			return fmt.Errorf("kafka: handler at %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}

		pending = append(pending, msg)
		c.metrics.ConsumerLag.
			WithLabelValues(strconv.Itoa(msg.Partition)).
			Set(float64(msg.HighWaterMark - msg.Offset - 1))

		if len(pending) >= c.commitEvery || time.Since(lastCommit) >= c.commitInterval {
			if err := commit(ctx); err != nil {
				return err
			}
		}
	}
}
