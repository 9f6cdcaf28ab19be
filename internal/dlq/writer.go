// Package dlq dead-letters records that a service could not process. The
// writer never propagates its own failures into the caller's processing
// path: a record that cannot reach the DLQ topic is counted, logged with
// full context and dropped, because stalling the pipeline on the failure
// path would be worse than losing one already-failed message.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// Writer publishes DLQ envelopes for a single owning service.
type Writer struct {
	service   string
	publisher domain.Publisher
	metrics   *metrics.Registry
	logger    *slog.Logger

	captureStack bool
}

// NewWriter creates a Writer that tags every envelope with the given
// service name.
func NewWriter(service string, publisher domain.Publisher, m *metrics.Registry, logger *slog.Logger) *Writer {
	return &Writer{
		service:      service,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With(slog.String("component", "dlq"), slog.String("service", service)),
		captureStack: true,
	}
}

// Write dead-letters rec with cause as the classified failure. The original
// payload bytes are carried verbatim so operators can replay the record
// after fixing the fault. Write never returns an error for publish
// failures; it reports success of the enqueue so callers can decide whether
// the record counts as disposed.
func (w *Writer) Write(ctx context.Context, rec domain.Record, cause error, retries int, meta map[string]string) bool {
	kind := domain.KindOf(cause)
	env := domain.DLQEnvelope{
		ID:            uuid.NewString(),
		OriginalTopic: rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Key:           string(rec.Key),
		Payload:       rec.Value,
		Service:       w.service,
		Reason:        domain.ReasonForKind(kind),
		ErrorMessage:  cause.Error(),
		RetryCount:    retries,
		OriginalTS:    rec.Time,
		DLQTS:         time.Now().UTC(),
		Metadata:      meta,
	}
	if w.captureStack && kind == domain.KindInternal {
		buf := make([]byte, 4096)
		env.Stack = string(buf[:runtime.Stack(buf, false)])
	}

	body, err := json.Marshal(env)
	if err != nil {
		// Only Payload or Metadata could fail, and neither can with these
		// types; keep the branch for safety.
		w.fail(rec, fmt.Errorf("dlq: marshal envelope: %w", err))
		return false
	}

	if err := w.publisher.Publish(ctx, rec.Key, body); err != nil {
		w.fail(rec, fmt.Errorf("dlq: publish: %w", err))
		return false
	}

	w.metrics.DLQEnqueued.WithLabelValues(string(env.Reason)).Inc()
	w.logger.Warn("record dead-lettered",
		slog.String("id", env.ID),
		slog.String("reason", string(env.Reason)),
		slog.String("topic", rec.Topic),
		slog.Int("partition", rec.Partition),
		slog.Int64("offset", rec.Offset),
		slog.String("error", cause.Error()),
	)
	return true
}

func (w *Writer) fail(rec domain.Record, err error) {
	w.metrics.DLQEnqueueFailed.Inc()
	w.logger.Error("dead-letter enqueue failed, record dropped",
		slog.String("topic", rec.Topic),
		slog.Int("partition", rec.Partition),
		slog.Int64("offset", rec.Offset),
		slog.String("error", err.Error()),
	)
}
