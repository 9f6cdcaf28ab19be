package coldpath

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/codec"
	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
	"github.com/alanyoungcy/tradeflow/internal/refdata"
)

// memStore mimics the idempotent Postgres trade store: exec_id wins races,
// inserts are all-or-nothing, and failures can be scripted per call.
type memStore struct {
	rows     map[string]domain.EnrichedTrade
	failures []error // consumed one per InsertBatch call
	calls    int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]domain.EnrichedTrade)}
}

func (s *memStore) InsertBatch(_ context.Context, trades []domain.EnrichedTrade) (int64, error) {
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return 0, err
		}
	}
	var inserted int64
	for _, t := range trades {
		if _, dup := s.rows[t.ExecID]; dup {
			continue
		}
		s.rows[t.ExecID] = t
		inserted++
	}
	return inserted, nil
}

type memRefStore struct{ snap domain.ReferenceSnapshot }

func (s *memRefStore) LoadAll(context.Context) (*domain.ReferenceSnapshot, error) {
	snap := s.snap
	snap.LoadedAt = time.Now()
	return &snap, nil
}

type capturePublisher struct{ values [][]byte }

func (p *capturePublisher) Publish(_ context.Context, _, value []byte) error {
	p.values = append(p.values, value)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func refSnapshot() domain.ReferenceSnapshot {
	return domain.ReferenceSnapshot{
		Traders: map[string]domain.TraderInfo{
			"T001": {TraderID: "T001", Name: "Ada Park", MPID: "ABCD", CRD: "12345"},
		},
		Accounts: map[string]domain.AccountInfo{
			"ACC-1": {Account: "ACC-1", AccountType: "PROP", StrategyCode: "STAT-ARB"},
		},
		Strategies: map[string]domain.StrategyInfo{
			"STAT-ARB": {Code: "STAT-ARB", Name: "Statistical Arbitrage", Type: "QUANT"},
		},
		Securities: map[string]domain.SecurityInfo{
			"AAPL": {Symbol: "AAPL", CUSIP: "037833100", ISIN: "US0378331005", SecurityName: "Apple Inc."},
		},
		Exchanges: map[string]domain.ExchangeInfo{
			"XNAS": {Exchange: "XNAS", MIC: "XNAS"},
		},
	}
}

func newService(t *testing.T, cfg Config, store *memStore, dlqPub *capturePublisher) *Service {
	t.Helper()
	m := metrics.New("test")
	logger := discardLogger()

	dicts := refdata.New(&memRefStore{snap: refSnapshot()}, time.Hour, logger)
	require.NoError(t, dicts.Load(context.Background()))

	s := New(cfg, store, NewEnricher(dicts, m, logger), dlq.NewWriter("coldpath", dlqPub, m, logger), m, logger)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func trade(execID string) domain.TradeEnvelope {
	return domain.TradeEnvelope{
		ExecID:        execID,
		Symbol:        "AAPL",
		Quantity:      100,
		PriceMantissa: 15_000_000_000,
		Side:          domain.SideBuy,
		ExecTS:        time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC),
		TraderID:      "T001",
		Account:       "ACC-1",
		Exchange:      "XNAS",
	}
}

func record(offset int64, t domain.TradeEnvelope) domain.Record {
	return domain.Record{
		Topic:  "trades.raw",
		Offset: offset,
		Key:    []byte(t.TraderID),
		Value:  codec.EncodeEnvelope(&t),
	}
}

func TestFlushOnBatchSizePersistsEnriched(t *testing.T) {
	store := newMemStore()
	s := newService(t, Config{BatchSize: 3}, store, &capturePublisher{})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, record(0, trade("X1"))))
	require.NoError(t, s.Handle(ctx, record(1, trade("X2"))))
	assert.Empty(t, store.rows, "below threshold, nothing flushed")

	require.NoError(t, s.Handle(ctx, record(2, trade("X3"))))
	require.Len(t, store.rows, 3)

	row := store.rows["X1"]
	assert.Equal(t, "Ada Park", row.TraderName)
	assert.Equal(t, "PROP", row.AccountType)
	assert.Equal(t, "STAT-ARB", row.StrategyCode)
	assert.Equal(t, "Statistical Arbitrage", row.StrategyName)
	assert.Equal(t, "US0378331005", row.ISIN)
	assert.Equal(t, "XNAS", row.MIC)
	assert.False(t, row.EnrichmentTS.IsZero())
}

func TestEnrichmentMissPersistsWithEmptyFields(t *testing.T) {
	store := newMemStore()
	s := newService(t, Config{BatchSize: 1}, store, &capturePublisher{})

	tr := trade("X1")
	tr.TraderID = "T999"
	tr.Symbol = "ZZZZ"
	require.NoError(t, s.Handle(context.Background(), record(0, tr)))

	require.Len(t, store.rows, 1)
	row := store.rows["X1"]
	assert.Empty(t, row.TraderName, "miss leaves the field empty, record still lands")
	assert.Empty(t, row.CUSIP)
}

func TestDuplicateExecIDPersistedOnce(t *testing.T) {
	store := newMemStore()
	s := newService(t, Config{BatchSize: 1}, store, &capturePublisher{})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, record(0, trade("X1"))))
	require.NoError(t, s.Handle(ctx, record(1, trade("X1"))))

	assert.Len(t, store.rows, 1, "exec_id uniqueness absorbs redelivery")
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	store := newMemStore()
	store.failures = []error{
		domain.Classifyf(domain.KindDownstreamTransient, "deadlock detected"),
		domain.Classifyf(domain.KindDownstreamTransient, "connection reset"),
		domain.Classifyf(domain.KindDownstreamTransient, "deadlock detected"),
	}
	s := newService(t, Config{BatchSize: 2}, store, &capturePublisher{})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, record(0, trade("X1"))))
	require.NoError(t, s.Handle(ctx, record(1, trade("X2"))))

	assert.Len(t, store.rows, 2, "all records persisted after retries")
	assert.Equal(t, 4, store.calls)
}

func TestExhaustedRetriesSplitAndDLQLoneFailure(t *testing.T) {
	store := newMemStore()
	// Five batch attempts fail, then the split: X1 insert succeeds, X2 fails.
	transient := domain.Classifyf(domain.KindDownstreamTransient, "connection reset")
	store.failures = []error{transient, transient, transient, transient, transient,
		nil,
		domain.Classifyf(domain.KindDownstreamPermanent, "value too long"),
	}
	dlqPub := &capturePublisher{}
	s := newService(t, Config{BatchSize: 2, RetryAttempts: 5}, store, dlqPub)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, record(0, trade("X1"))))
	require.NoError(t, s.Handle(ctx, record(1, trade("X2"))))

	assert.Len(t, store.rows, 1)
	require.Len(t, dlqPub.values, 1)

	var env domain.DLQEnvelope
	require.NoError(t, json.Unmarshal(dlqPub.values[0], &env))
	assert.Equal(t, domain.ReasonDownstream, env.Reason)
	assert.Equal(t, "X2", env.Metadata["exec_id"])

	decoded, err := codec.DecodeEnvelope(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, "X2", decoded.ExecID, "DLQ payload is the original log record")
}

func TestPermanentFailureSkipsRetryLadder(t *testing.T) {
	store := newMemStore()
	store.failures = []error{
		domain.Classifyf(domain.KindDownstreamPermanent, "relation does not exist"),
		nil, // split insert succeeds
	}
	s := newService(t, Config{BatchSize: 1}, store, &capturePublisher{})

	require.NoError(t, s.Handle(context.Background(), record(0, trade("X1"))))
	assert.Equal(t, 2, store.calls, "one batch attempt, then straight to split")
	assert.Len(t, store.rows, 1)
}

func TestMalformedAndInvalidRecordsGoToDLQ(t *testing.T) {
	store := newMemStore()
	dlqPub := &capturePublisher{}
	s := newService(t, Config{BatchSize: 1}, store, dlqPub)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, domain.Record{Topic: "trades.raw", Value: []byte{0x07, 0xff}}))

	bad := trade("X9")
	bad.Quantity = 0
	require.NoError(t, s.Handle(ctx, record(1, bad)))

	assert.Empty(t, store.rows)
	require.Len(t, dlqPub.values, 2)

	var first, second domain.DLQEnvelope
	require.NoError(t, json.Unmarshal(dlqPub.values[0], &first))
	require.NoError(t, json.Unmarshal(dlqPub.values[1], &second))
	assert.Equal(t, domain.ReasonDeserialization, first.Reason)
	assert.Equal(t, domain.ReasonValidation, second.Reason)
}

func TestFlushDrainsBufferBeforeCommit(t *testing.T) {
	store := newMemStore()
	s := newService(t, Config{BatchSize: 100}, store, &capturePublisher{})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, record(0, trade("X1"))))
	require.NoError(t, s.Handle(ctx, record(1, trade("X2"))))
	require.NoError(t, s.Flush(ctx))

	assert.Len(t, store.rows, 2)
	require.NoError(t, s.Flush(ctx), "empty flush is a no-op")
	assert.Equal(t, 1, store.calls)
}
