package domain

import (
	"context"
	"time"
)

// PriceTier names one level of the mark-price waterfall in cache key order.
type PriceTier string

const (
	TierClose PriceTier = "close"
	TierLTP   PriceTier = "ltp"
	TierMid   PriceTier = "mid"
	TierStale PriceTier = "stale"
)

// MarkPriceSource resolves a mark price for a symbol by walking the
// waterfall: official close → last traded → mid → yesterday's stale close.
// When every tier misses it returns (0, MarkStale, nil); errors are reserved
// for cache transport failures.
type MarkPriceSource interface {
	GetMark(ctx context.Context, symbol string) (int64, MarkSource, error)
}

// PriceWriter stores a price mantissa at one waterfall tier.
type PriceWriter interface {
	SetPrice(ctx context.Context, tier PriceTier, symbol string, mantissa int64, ttl time.Duration) error
}

// PositionCache is the shared hot-path projection. PublishSnapshot upserts
// the per-trader hash fields and then publishes the serialized snapshot to
// the trader's channel; the hash is canonical and the channel message is
// best-effort.
type PositionCache interface {
	PublishSnapshot(ctx context.Context, snap PositionSnapshot) error
}

// SignalBus provides raw pub/sub access, used by the websocket hub to relay
// snapshot messages to dashboard clients.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
