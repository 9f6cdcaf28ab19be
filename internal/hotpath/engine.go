// Package hotpath is the flash P&L engine: it folds the trades log into
// per-(trader, symbol) positions held in process memory, prices them via
// the cached mark waterfall, and projects snapshots into the shared cache.
// The in-memory map is the truth on this path; the cache is a projection
// rebuilt for free by log replay.
package hotpath

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

// Engine applies trades partition-serially. The consumer loop is single-
// goroutine, so no locking guards the position maps; partition state is
// segregated so a rebalance can discard exactly the partitions that moved.
type Engine struct {
	marks   domain.MarkPriceSource
	cache   domain.PositionCache
	markCB  *breaker.Breaker
	cacheCB *breaker.Breaker
	dlq     *dlq.Writer
	metrics *metrics.Registry
	logger  *slog.Logger

	// positions[partition][key]; owned by the consumer goroutine.
	positions   map[int]map[domain.PositionKey]*domain.Position
	lastOffsets map[int]int64
	total       int
}

// New wires the engine. markCB and cacheCB should carry the Storage preset:
// the cache is non-critical on this path, so both wrap with skip-on-open
// semantics.
func New(
	marks domain.MarkPriceSource,
	cache domain.PositionCache,
	markCB, cacheCB *breaker.Breaker,
	dlqWriter *dlq.Writer,
	m *metrics.Registry,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		marks:       marks,
		cache:       cache,
		markCB:      markCB,
		cacheCB:     cacheCB,
		dlq:         dlqWriter,
		metrics:     m,
		logger:      logger.With(slog.String("component", "hotpath")),
		positions:   make(map[int]map[domain.PositionKey]*domain.Position),
		lastOffsets: make(map[int]int64),
	}
}

// Handle processes one log record. It always disposes of the record — sink,
// DLQ, or skip — and returns nil so the consumer can commit; only the
// context can stop the loop.
func (e *Engine) Handle(ctx context.Context, rec domain.Record) error {
	start := time.Now()

	e.checkReplay(rec)

	t, err := codec.DecodeEnvelope(rec.Value)
	if err != nil {
		e.dlq.Write(ctx, rec, err, 0, nil)
		return nil
	}

	pos := e.position(rec.Partition, domain.PositionKey{TraderID: t.TraderID, Symbol: t.Symbol})
	pos.Apply(t)

	mark, source := e.lookupMark(ctx, t.Symbol)
	snap := pos.Snapshot(mark, source)

	// Skip-on-open: in-memory state stays authoritative and the next trade
	// for this key re-publishes a superseding snapshot.
	err = e.cacheCB.Execute(ctx, func(ctx context.Context) error {
		return e.cache.PublishSnapshot(ctx, snap)
	})
	if err != nil {
		e.metrics.CachePublishSkipped.Inc()
		e.logger.WarnContext(ctx, "snapshot publish skipped",
			slog.String("trader_id", t.TraderID),
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}

	e.metrics.TradesApplied.Inc()
	e.metrics.ApplyLatency.Observe(time.Since(start).Seconds())
	return nil
}

// checkReplay watches per-partition offsets. Any break in the sequence —
// an offset at or below the last one seen (rebalance replay from an older
// commit) or a forward jump past last+1 (the partition was revoked, folded
// elsewhere, and reassigned) — means the in-memory fold no longer matches
// the log position, so the partition's positions are rebuilt from scratch.
func (e *Engine) checkReplay(rec domain.Record) {
	last, seen := e.lastOffsets[rec.Partition]
	if seen && rec.Offset != last+1 {
		if parts := e.positions[rec.Partition]; parts != nil {
			e.total -= len(parts)
		}
		delete(e.positions, rec.Partition)
		e.metrics.OpenPositions.Set(float64(e.total))
		e.logger.Warn("offset discontinuity, partition state reset",
			slog.Int("partition", rec.Partition),
			slog.Int64("last_offset", last),
			slog.Int64("offset", rec.Offset),
		)
	}
	e.lastOffsets[rec.Partition] = rec.Offset
}

// position finds or creates the per-partition position for a key.
func (e *Engine) position(partition int, key domain.PositionKey) *domain.Position {
	parts := e.positions[partition]
	if parts == nil {
		parts = make(map[domain.PositionKey]*domain.Position)
		e.positions[partition] = parts
	}
	pos := parts[key]
	if pos == nil {
		pos = domain.NewPosition(key)
		parts[key] = pos
		e.total++
		e.metrics.OpenPositions.Set(float64(e.total))
	}
	return pos
}

// lookupMark walks the cached waterfall under the storage breaker. Any
// failure degrades to an unpriced (0, STALE) snapshot rather than stalling
// the fold.
func (e *Engine) lookupMark(ctx context.Context, symbol string) (int64, domain.MarkSource) {
	var (
		mark   int64
		source = domain.MarkStale
	)
	err := e.markCB.Execute(ctx, func(ctx context.Context) error {
		m, s, err := e.marks.GetMark(ctx, symbol)
		if err != nil {
			return err
		}
		mark, source = m, s
		return nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "mark lookup failed, snapshot unpriced",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 0, domain.MarkStale
	}
	return mark, source
}

// Position returns the current state for a key, for tests and diagnostics.
func (e *Engine) Position(partition int, key domain.PositionKey) (domain.Position, bool) {
	parts := e.positions[partition]
	if parts == nil {
		return domain.Position{}, false
	}
	pos, ok := parts[key]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}
