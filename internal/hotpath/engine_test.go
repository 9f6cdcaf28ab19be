package hotpath

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/breaker"
	"github.com/alanyoungcy/tradeflow/internal/codec"
	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

type fakeMarks struct {
	marks   map[string]int64
	sources map[string]domain.MarkSource
	err     error
}

func (f *fakeMarks) GetMark(_ context.Context, symbol string) (int64, domain.MarkSource, error) {
	if f.err != nil {
		return 0, domain.MarkStale, f.err
	}
	if m, ok := f.marks[symbol]; ok {
		return m, f.sources[symbol], nil
	}
	return 0, domain.MarkStale, nil
}

type fakePositionCache struct {
	snaps []domain.PositionSnapshot
	err   error
}

func (f *fakePositionCache) PublishSnapshot(_ context.Context, snap domain.PositionSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

type nopPublisher struct{ values [][]byte }

func (p *nopPublisher) Publish(_ context.Context, _, value []byte) error {
	p.values = append(p.values, value)
	return nil
}

func (p *nopPublisher) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, marks *fakeMarks, cache *fakePositionCache, dlqPub *nopPublisher) *Engine {
	t.Helper()
	m := metrics.New("test")
	logger := discardLogger()
	return New(
		marks, cache,
		breaker.New(breaker.Storage("marks"), logger),
		breaker.New(breaker.Storage("cache"), logger),
		dlq.NewWriter("hotpath", dlqPub, m, logger),
		m, logger,
	)
}

func record(partition int, offset int64, t domain.TradeEnvelope) domain.Record {
	return domain.Record{
		Topic:     "trades.raw",
		Partition: partition,
		Offset:    offset,
		Key:       []byte(t.TraderID),
		Value:     codec.EncodeEnvelope(&t),
		Time:      t.ExecTS,
	}
}

func trade(execID string, side domain.Side, qty, price int64) domain.TradeEnvelope {
	return domain.TradeEnvelope{
		ExecID:        execID,
		Symbol:        "AAPL",
		Quantity:      qty,
		PriceMantissa: price,
		Side:          side,
		ExecTS:        time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC),
		TraderID:      "T001",
		Account:       "ACC-1",
		Exchange:      "XNAS",
	}
}

func TestBuyThenPartialSell(t *testing.T) {
	marks := &fakeMarks{
		marks:   map[string]int64{"AAPL": 18_000_000_000},
		sources: map[string]domain.MarkSource{"AAPL": domain.MarkOfficial},
	}
	cache := &fakePositionCache{}
	e := newEngine(t, marks, cache, &nopPublisher{})

	ctx := context.Background()
	require.NoError(t, e.Handle(ctx, record(0, 0, trade("X1", domain.SideBuy, 100, 15_000_000_000))))
	require.NoError(t, e.Handle(ctx, record(0, 1, trade("X2", domain.SideSell, 40, 20_000_000_000))))

	pos, ok := e.Position(0, domain.PositionKey{TraderID: "T001", Symbol: "AAPL"})
	require.True(t, ok)
	assert.Equal(t, int64(60), pos.Quantity)
	assert.Equal(t, int64(200_000_000_000), pos.RealizedPnL)

	require.Len(t, cache.snaps, 2)
	last := cache.snaps[1]
	assert.Equal(t, int64(180_000_000_000), last.UnrealizedPnL)
	assert.Equal(t, int64(18_000_000_000), last.MarkPrice)
	assert.Equal(t, domain.MarkOfficial, last.MarkSource)
	assert.Equal(t, int64(380_000_000_000), last.TotalPnL())
}

func TestMalformedRecordGoesToDLQAndAdvances(t *testing.T) {
	dlqPub := &nopPublisher{}
	e := newEngine(t, &fakeMarks{}, &fakePositionCache{}, dlqPub)

	rec := domain.Record{Topic: "trades.raw", Partition: 2, Offset: 9, Value: []byte{0x07, 0xff}}
	require.NoError(t, e.Handle(context.Background(), rec), "poisoned messages never stop the loop")
	assert.Len(t, dlqPub.values, 1)
}

func TestCacheFailureSkipsPublishWithoutDLQ(t *testing.T) {
	dlqPub := &nopPublisher{}
	cache := &fakePositionCache{err: errors.New("cache down")}
	e := newEngine(t, &fakeMarks{}, cache, dlqPub)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		tr := trade("X", domain.SideBuy, 1, 15_000_000_000)
		tr.ExecID = tr.ExecID + string(rune('A'+i))
		require.NoError(t, e.Handle(ctx, record(0, int64(i), tr)))
	}

	pos, ok := e.Position(0, domain.PositionKey{TraderID: "T001", Symbol: "AAPL"})
	require.True(t, ok)
	assert.Equal(t, int64(20), pos.Quantity, "in-memory state keeps advancing")
	assert.Empty(t, dlqPub.values, "skipped cache publishes are not DLQ material")
}

func TestMarkLookupFailureProducesUnpricedSnapshot(t *testing.T) {
	marks := &fakeMarks{err: domain.Classifyf(domain.KindDownstreamTransient, "cache down")}
	cache := &fakePositionCache{}
	e := newEngine(t, marks, cache, &nopPublisher{})

	require.NoError(t, e.Handle(context.Background(), record(0, 0, trade("X1", domain.SideBuy, 10, 15_000_000_000))))

	require.Len(t, cache.snaps, 1)
	assert.Equal(t, int64(0), cache.snaps[0].MarkPrice)
	assert.Equal(t, domain.MarkStale, cache.snaps[0].MarkSource)
}

func TestOffsetRegressionResetsPartitionState(t *testing.T) {
	e := newEngine(t, &fakeMarks{}, &fakePositionCache{}, &nopPublisher{})
	ctx := context.Background()
	key := domain.PositionKey{TraderID: "T001", Symbol: "AAPL"}

	require.NoError(t, e.Handle(ctx, record(3, 10, trade("X1", domain.SideBuy, 100, 15_000_000_000))))
	require.NoError(t, e.Handle(ctx, record(3, 11, trade("X2", domain.SideBuy, 50, 15_000_000_000))))
	// Other partitions are untouched by partition 3's replay.
	require.NoError(t, e.Handle(ctx, record(4, 7, trade("X3", domain.SideBuy, 5, 15_000_000_000))))

	// Rebalance: partition 3 replays from offset 10.
	require.NoError(t, e.Handle(ctx, record(3, 10, trade("X1", domain.SideBuy, 100, 15_000_000_000))))

	pos, ok := e.Position(3, key)
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Quantity, "replayed trades fold into fresh state, not stale state")

	other, ok := e.Position(4, key)
	require.True(t, ok)
	assert.Equal(t, int64(5), other.Quantity)
}

func TestOffsetGapResetsPartitionState(t *testing.T) {
	e := newEngine(t, &fakeMarks{}, &fakePositionCache{}, &nopPublisher{})
	ctx := context.Background()
	key := domain.PositionKey{TraderID: "T001", Symbol: "AAPL"}

	require.NoError(t, e.Handle(ctx, record(3, 10, trade("X1", domain.SideBuy, 100, 15_000_000_000))))
	require.NoError(t, e.Handle(ctx, record(3, 11, trade("X2", domain.SideBuy, 50, 15_000_000_000))))

	// Reassignment after a revoke: the partition resumes far past where this
	// instance left off. Offsets 12..20 were folded elsewhere, so the local
	// state is stale and must not absorb the new trade.
	require.NoError(t, e.Handle(ctx, record(3, 21, trade("X9", domain.SideBuy, 5, 15_000_000_000))))

	pos, ok := e.Position(3, key)
	require.True(t, ok)
	assert.Equal(t, int64(5), pos.Quantity, "a gap past last+1 starts a fresh fold")
}

func TestDeterministicFoldPerTrader(t *testing.T) {
	seq := []domain.TradeEnvelope{
		trade("A", domain.SideBuy, 10, 10_000_000_000),
		trade("B", domain.SideBuy, 20, 13_000_000_000),
		trade("C", domain.SideSell, 15, 14_000_000_000),
		trade("D", domain.SideSellShort, 30, 12_000_000_000),
	}

	run := func() domain.Position {
		e := newEngine(t, &fakeMarks{}, &fakePositionCache{}, &nopPublisher{})
		for i, tr := range seq {
			require.NoError(t, e.Handle(context.Background(), record(0, int64(i), tr)))
		}
		pos, ok := e.Position(0, domain.PositionKey{TraderID: "T001", Symbol: "AAPL"})
		require.True(t, ok)
		return pos
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}
