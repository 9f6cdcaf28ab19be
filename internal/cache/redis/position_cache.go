package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// PositionCache publishes hot-path position snapshots. Each trader owns one
// hash at "positions:{traderID}" with per-symbol fields; after the hash
// upsert the full snapshot is published to "pnl:{traderID}" for live
// subscribers. The hash is the canonical read model — a lost pub/sub message
// only delays a dashboard until the next trade.
type PositionCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client, logger *slog.Logger) *PositionCache {
	return &PositionCache{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "position_cache")),
	}
}

func positionsKey(traderID string) string {
	return "positions:" + traderID
}

func pnlChannel(traderID string) string {
	return "pnl:" + traderID
}

// PublishSnapshot upserts the trader's hash fields and then broadcasts the
// serialized snapshot. Only the hash write can fail the call.
func (pc *PositionCache) PublishSnapshot(ctx context.Context, snap domain.PositionSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return domain.Classify(domain.KindInternal, fmt.Errorf("redis: marshal snapshot: %w", err))
	}

	fields := map[string]interface{}{
		snap.Symbol:             strconv.FormatInt(snap.Quantity, 10),
		snap.Symbol + ":pnl":    strconv.FormatInt(snap.TotalPnL(), 10),
		snap.Symbol + ":mark":   strconv.FormatInt(snap.MarkPrice, 10),
		snap.Symbol + ":source": string(snap.MarkSource),
		snap.Symbol + ":trades": strconv.FormatInt(snap.TradeCount, 10),
	}
	if err := pc.rdb.HSet(ctx, positionsKey(snap.TraderID), fields).Err(); err != nil {
		return domain.Classify(domain.KindDownstreamTransient,
			fmt.Errorf("redis: upsert position %s/%s: %w", snap.TraderID, snap.Symbol, err))
	}

	if err := pc.rdb.Publish(ctx, pnlChannel(snap.TraderID), body).Err(); err != nil {
		pc.logger.Warn("snapshot broadcast failed",
			slog.String("trader_id", snap.TraderID),
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
