// Package ingest turns parsed gateway trades into the durable trades log:
// validate, archive the raw bytes, encode the canonical envelope, publish
// keyed by trader so each trader's executions stay ordered on one
// partition.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/breaker"
	"github.com/alanyoungcy/tradeflow/internal/codec"
	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// rawArchiver writes one raw gateway message to the compliance bucket.
type rawArchiver interface {
	ArchiveRaw(ctx context.Context, receiveTS time.Time, raw []byte) (string, error)
}

// Service is the ingestion pipeline. One instance runs per process; the
// trade source drives it.
type Service struct {
	source    domain.TradeSource
	archiver  rawArchiver
	archiveCB *breaker.Breaker
	publisher domain.Publisher
	dlq       *dlq.Writer
	metrics   *metrics.Registry
	logger    *slog.Logger
}

// New wires the ingestion pipeline. archiveCB should carry the
// HighAvailability preset: the archive is a compliance aid, not the record
// of truth, so a failing object store must not slow the stream down.
func New(
	source domain.TradeSource,
	archiver rawArchiver,
	archiveCB *breaker.Breaker,
	publisher domain.Publisher,
	dlqWriter *dlq.Writer,
	m *metrics.Registry,
	logger *slog.Logger,
) *Service {
	return &Service{
		source:    source,
		archiver:  archiver,
		archiveCB: archiveCB,
		publisher: publisher,
		dlq:       dlqWriter,
		metrics:   m,
		logger:    logger.With(slog.String("component", "ingest")),
	}
}

// Run consumes the trade source until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.source.Run(ctx, s.handle)
}

// handle processes one parsed trade. It returns an error only for
// cancellation; every per-trade failure is disposed of here so the source
// keeps flowing.
func (s *Service) handle(ctx context.Context, t domain.TradeEnvelope) error {
	start := time.Now()

	if err := t.Validate(); err != nil {
		s.metrics.TradesRejected.Inc()
		s.dlq.Write(ctx, s.rawRecord(&t), err, 0, map[string]string{"stage": "validate"})
		return nil
	}

	// Archive raw bytes before publishing. Skip-on-open: the envelope still
	// carries the raw bytes, so a missed archive object is recoverable from
	// the log.
	err := s.archiveCB.Execute(ctx, func(ctx context.Context) error {
		_, err := s.archiver.ArchiveRaw(ctx, t.ReceiveTS, t.RawBytes)
		return err
	})
	if err != nil {
		s.metrics.ArchiveSkipped.Inc()
		s.logger.WarnContext(ctx, "raw archive skipped",
			slog.String("exec_id", t.ExecID),
			slog.String("error", err.Error()),
		)
	}

	value := codec.EncodeEnvelope(&t)
	if err := s.publisher.Publish(ctx, []byte(t.TraderID), value); err != nil {
		s.metrics.PublishFailed.Inc()
		s.dlq.Write(ctx, s.rawRecord(&t), err, 0, map[string]string{"stage": "publish"})
		return nil
	}

	s.metrics.TradesIngested.Inc()
	s.metrics.IngestLatency.Observe(time.Since(start).Seconds())
	return nil
}

// HandleMalformed dead-letters a gateway message that could not be decoded
// at all. It carries a deserialization cause, not a validation one: the
// bytes never became a trade, so there was nothing to validate.
func (s *Service) HandleMalformed(ctx context.Context, gatewayID string, raw []byte, cause error) {
	s.metrics.TradesRejected.Inc()
	rec := domain.Record{
		Topic: "gateway:" + gatewayID,
		Value: raw,
		Time:  time.Now().UTC(),
	}
	s.dlq.Write(ctx, rec, domain.Classify(domain.KindDeserialization, cause), 0, map[string]string{"stage": "decode"})
}

// rawRecord shapes a pre-log trade for the DLQ. These records never reached
// a topic, so the origin is the gateway itself and the payload is the raw
// wire message.
func (s *Service) rawRecord(t *domain.TradeEnvelope) domain.Record {
	return domain.Record{
		Topic: "gateway:" + t.GatewayID,
		Key:   []byte(t.TraderID),
		Value: t.RawBytes,
		Time:  t.ReceiveTS,
	}
}
