package hotpath

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/dlq"
	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// priceTTL bounds staleness of waterfall tiers fed from the prices topic.
const priceTTL = 24 * time.Hour

// PriceUpdate is the JSON payload on the prices topic, published by the
// market-data gateway. Mantissa convention matches the trade envelope.
type PriceUpdate struct {
	Symbol      string    `json:"symbol"`
	LTPMantissa int64     `json:"ltp_mantissa,omitempty"`
	BidMantissa int64     `json:"bid_mantissa,omitempty"`
	AskMantissa int64     `json:"ask_mantissa,omitempty"`
	TS          time.Time `json:"ts"`
}

// PriceConsumer keeps the ltp and mid tiers of the mark waterfall fresh.
type PriceConsumer struct {
	writer  domain.PriceWriter
	dlq     *dlq.Writer
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewPriceConsumer creates a PriceConsumer writing through the given price
// writer.
func NewPriceConsumer(writer domain.PriceWriter, dlqWriter *dlq.Writer, m *metrics.Registry, logger *slog.Logger) *PriceConsumer {
	return &PriceConsumer{
		writer:  writer,
		dlq:     dlqWriter,
		metrics: m,
		logger:  logger.With(slog.String("component", "prices")),
	}
}

// Handle decodes one price update and writes its tiers. Cache failures are
// tolerated: the waterfall degrades to staler tiers, so the record is
// considered disposed either way.
func (c *PriceConsumer) Handle(ctx context.Context, rec domain.Record) error {
	var u PriceUpdate
	if err := json.Unmarshal(rec.Value, &u); err != nil {
		c.dlq.Write(ctx, rec,
			domain.Classifyf(domain.KindDeserialization, "prices: decode update: %v", err), 0, nil)
		return nil
	}
	if u.Symbol == "" {
		c.dlq.Write(ctx, rec,
			domain.Classifyf(domain.KindValidation, "prices: update without symbol"), 0, nil)
		return nil
	}

	if u.LTPMantissa > 0 {
		c.setTier(ctx, domain.TierLTP, u.Symbol, u.LTPMantissa)
	}
	if u.BidMantissa > 0 && u.AskMantissa > 0 {
		c.setTier(ctx, domain.TierMid, u.Symbol, (u.BidMantissa+u.AskMantissa)/2)
	}
	return nil
}

func (c *PriceConsumer) setTier(ctx context.Context, tier domain.PriceTier, symbol string, mantissa int64) {
	if err := c.writer.SetPrice(ctx, tier, symbol, mantissa, priceTTL); err != nil {
		c.logger.WarnContext(ctx, "price tier write failed",
			slog.String("tier", string(tier)),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
