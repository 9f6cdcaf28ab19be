package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
)

// waterfall is the tier lookup order for mark prices. The first populated
// key wins.
var waterfall = []struct {
	tier   domain.PriceTier
	source domain.MarkSource
}{
	{domain.TierClose, domain.MarkOfficial},
	{domain.TierLTP, domain.MarkLTP},
	{domain.TierMid, domain.MarkMid},
	{domain.TierStale, domain.MarkStale},
}

// MarkPriceCache resolves and stores mark prices. Each tier lives at its own
// string key "price:{tier}:{symbol}" holding a decimal mantissa, so tiers
// can expire independently.
type MarkPriceCache struct {
	rdb     *redis.Client
	metrics *metrics.Registry
}

// NewMarkPriceCache creates a MarkPriceCache backed by the given Client.
func NewMarkPriceCache(c *Client, m *metrics.Registry) *MarkPriceCache {
	return &MarkPriceCache{rdb: c.Underlying(), metrics: m}
}

func priceKey(tier domain.PriceTier, symbol string) string {
	return "price:" + string(tier) + ":" + symbol
}

// GetMark walks the waterfall with a single MGET and returns the first
// populated tier. A full miss is not an error: it returns (0, MarkStale, nil)
// and the caller decides how to mark the position.
func (mc *MarkPriceCache) GetMark(ctx context.Context, symbol string) (int64, domain.MarkSource, error) {
	keys := make([]string, len(waterfall))
	for i, w := range waterfall {
		keys[i] = priceKey(w.tier, symbol)
	}

	vals, err := mc.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, domain.MarkStale, domain.Classify(domain.KindDownstreamTransient,
			fmt.Errorf("redis: get mark %s: %w", symbol, err))
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		mantissa, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, domain.MarkStale, domain.Classifyf(domain.KindInternal,
				"redis: corrupt mark at %s: %q", keys[i], s)
		}
		mc.metrics.MarkLookups.WithLabelValues(string(waterfall[i].tier)).Inc()
		return mantissa, waterfall[i].source, nil
	}

	mc.metrics.MarkLookups.WithLabelValues("miss").Inc()
	return 0, domain.MarkStale, nil
}

// SetPrice stores a price mantissa at one tier. A zero ttl leaves the key
// without expiry.
func (mc *MarkPriceCache) SetPrice(ctx context.Context, tier domain.PriceTier, symbol string, mantissa int64, ttl time.Duration) error {
	key := priceKey(tier, symbol)
	if err := mc.rdb.Set(ctx, key, strconv.FormatInt(mantissa, 10), ttl).Err(); err != nil {
		return domain.Classify(domain.KindDownstreamTransient,
			fmt.Errorf("redis: set price %s: %w", key, err))
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.MarkPriceSource = (*MarkPriceCache)(nil)
	_ domain.PriceWriter     = (*MarkPriceCache)(nil)
)
