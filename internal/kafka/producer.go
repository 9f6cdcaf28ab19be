// Package kafka adapts the segmentio/kafka-go client to the pipeline's
// publisher and consumer contracts: a hash-partitioned acks-all producer
// and a manual-commit consumer loop with per-partition ordering.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// ProducerConfig enumerates producer tuning options.
type ProducerConfig struct {
	Brokers []string
	Topic   string

	// Acks selects the delivery guarantee: "all" (default), "leader", "none".
	Acks string

	// LingerMS is the batching delay before a partial batch is flushed.
	LingerMS int

	// BatchBytes caps one produce batch; defaults to 64 KiB.
	BatchBytes int64

	// MaxRetries bounds delivery attempts per message.
	MaxRetries int
}

// Producer publishes keyed records to one topic. Keys are hashed to
// partitions, so records that share a key stay ordered on one partition.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer with LZ4 compression and synchronous
// delivery so publish errors surface to the caller.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	acks := kafka.RequireAll
	switch cfg.Acks {
	case "leader":
		acks = kafka.RequireOne
	case "none":
		acks = kafka.RequireNone
	}
	linger := 10 * time.Millisecond
	if cfg.LingerMS > 0 {
		linger = time.Duration(cfg.LingerMS) * time.Millisecond
	}
	batchBytes := int64(64 * 1024)
	if cfg.BatchBytes > 0 {
		batchBytes = cfg.BatchBytes
	}
	maxAttempts := 10
	if cfg.MaxRetries > 0 {
		maxAttempts = cfg.MaxRetries
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Compression:  kafka.Lz4,
		BatchTimeout: linger,
		BatchBytes:   batchBytes,
		MaxAttempts:  maxAttempts,
	}

	return &Producer{
		writer: w,
		logger: logger.With(slog.String("component", "producer"), slog.String("topic", cfg.Topic)),
	}
}

// Publish appends one keyed record. Failures after the writer's internal
// retries are classified as transient downstream errors.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
	if err != nil {
		return domain.Classify(domain.KindDownstreamTransient,
			fmt.Errorf("kafka: publish to %s: %w", p.writer.Topic, err))
	}
	return nil
}

// Close flushes pending batches and releases the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close producer %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Publisher = (*Producer)(nil)
