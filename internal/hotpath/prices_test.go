package hotpath

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

type fakePriceWriter struct {
	writes map[string]int64 // "tier/symbol" → mantissa
}

func (f *fakePriceWriter) SetPrice(_ context.Context, tier domain.PriceTier, symbol string, mantissa int64, _ time.Duration) error {
	if f.writes == nil {
		f.writes = make(map[string]int64)
	}
	f.writes[string(tier)+"/"+symbol] = mantissa
	return nil
}

func newPriceConsumer(t *testing.T, w *fakePriceWriter, dlqPub *nopPublisher) *PriceConsumer {
	t.Helper()
	m := metrics.New("test")
	logger := discardLogger()
	return NewPriceConsumer(w, dlq.NewWriter("hotpath", dlqPub, m, logger), m, logger)
}

func TestPriceUpdateWritesLtpAndMidTiers(t *testing.T) {
	w := &fakePriceWriter{}
	c := newPriceConsumer(t, w, &nopPublisher{})

	rec := domain.Record{
		Topic: "prices.updates",
		Value: []byte(`{"symbol":"AAPL","ltp_mantissa":17500000000,"bid_mantissa":17400000000,"ask_mantissa":17600000000}`),
	}
	require.NoError(t, c.Handle(context.Background(), rec))

	assert.Equal(t, int64(17_500_000_000), w.writes["ltp/AAPL"])
	assert.Equal(t, int64(17_500_000_000), w.writes["mid/AAPL"])
}

func TestPriceUpdateMalformedGoesToDLQ(t *testing.T) {
	dlqPub := &nopPublisher{}
	c := newPriceConsumer(t, &fakePriceWriter{}, dlqPub)

	require.NoError(t, c.Handle(context.Background(), domain.Record{Value: []byte(`{`)}))
	require.NoError(t, c.Handle(context.Background(), domain.Record{Value: []byte(`{"ltp_mantissa":1}`)}))

	assert.Len(t, dlqPub.values, 2)
	assert.Empty(t, (&fakePriceWriter{}).writes)
}
