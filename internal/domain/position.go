package domain

import "time"

// PositionKey identifies a position by its owning trader and symbol.
type PositionKey struct {
	TraderID string
	Symbol   string
}

// Position accumulates per-(trader, symbol) execution state on the hot
// path. All monetary fields are mantissa fixed-point integers; floats never
// enter position state. A Position is owned by exactly one partition
// consumer and is mutated serially.
type Position struct {
	TraderID string
	Symbol   string

	Quantity          int64
	TotalBuyQty       int64
	TotalSellQty      int64
	TotalBuyCost      int64 // mantissa, Σ qty×price over buys
	TotalSellProceeds int64 // mantissa, Σ qty×price over sells
	RealizedPnL       int64 // mantissa
	TradeCount        int64
	LastUpdateTS      time.Time
}

// NewPosition creates an empty position for the given key.
func NewPosition(key PositionKey) *Position {
	return &Position{TraderID: key.TraderID, Symbol: key.Symbol}
}

// AvgBuyPrice returns the average buy price mantissa (truncated integer
// division), or 0 when no buys have been recorded.
func (p *Position) AvgBuyPrice() int64 {
	if p.TotalBuyQty <= 0 {
		return 0
	}
	return p.TotalBuyCost / p.TotalBuyQty
}

// Apply folds one trade into the position. The fold is deterministic and
// uses only integer arithmetic.
//
// Realized P&L accrues only when a sell closes long inventory: the gate is
// prior quantity > 0 with recorded buys. Short positions accrue no realized
// P&L until covered.
func (p *Position) Apply(t *TradeEnvelope) {
	cost := t.Quantity * t.PriceMantissa

	if t.Side == SideBuy {
		p.Quantity += t.Quantity
		p.TotalBuyQty += t.Quantity
		p.TotalBuyCost += cost
	} else {
		prev := p.Quantity
		p.Quantity -= t.Quantity
		p.TotalSellQty += t.Quantity
		p.TotalSellProceeds += cost
		if prev > 0 && p.TotalBuyQty > 0 {
			p.RealizedPnL += (t.PriceMantissa - p.AvgBuyPrice()) * t.Quantity
		}
	}

	p.TradeCount++
	p.LastUpdateTS = t.ExecTS
}

// MarkSource labels which tier of the price waterfall produced a mark.
type MarkSource string

const (
	MarkOfficial MarkSource = "OFFICIAL"
	MarkLTP      MarkSource = "LTP"
	MarkMid      MarkSource = "MID"
	MarkStale    MarkSource = "STALE"
)

// PositionSnapshot is the immutable value published to the cache and the
// pub/sub channel after every position update.
type PositionSnapshot struct {
	TraderID          string     `json:"trader_id"`
	Symbol            string     `json:"symbol"`
	Quantity          int64      `json:"quantity"`
	TotalBuyQty       int64      `json:"total_buy_qty"`
	TotalSellQty      int64      `json:"total_sell_qty"`
	TotalBuyCost      int64      `json:"total_buy_cost_mantissa"`
	TotalSellProceeds int64      `json:"total_sell_proceeds_mantissa"`
	RealizedPnL       int64      `json:"realized_pnl_mantissa"`
	UnrealizedPnL     int64      `json:"unrealized_pnl_mantissa"`
	MarkPrice         int64      `json:"mark_price_mantissa"`
	MarkSource        MarkSource `json:"mark_source"`
	TradeCount        int64      `json:"trade_count"`
	LastUpdateTS      time.Time  `json:"last_update_ts"`
}

// Snapshot freezes the position against the given mark price. Unrealized
// P&L is computed against the average buy cost and is zero for positions
// with no inventory or no recorded buys.
func (p *Position) Snapshot(mark int64, source MarkSource) PositionSnapshot {
	var unrealized int64
	if p.Quantity != 0 && p.TotalBuyQty > 0 {
		unrealized = (mark - p.AvgBuyPrice()) * p.Quantity
	}
	return PositionSnapshot{
		TraderID:          p.TraderID,
		Symbol:            p.Symbol,
		Quantity:          p.Quantity,
		TotalBuyQty:       p.TotalBuyQty,
		TotalSellQty:      p.TotalSellQty,
		TotalBuyCost:      p.TotalBuyCost,
		TotalSellProceeds: p.TotalSellProceeds,
		RealizedPnL:       p.RealizedPnL,
		UnrealizedPnL:     unrealized,
		MarkPrice:         mark,
		MarkSource:        source,
		TradeCount:        p.TradeCount,
		LastUpdateTS:      p.LastUpdateTS,
	}
}

// TotalPnL is realized plus unrealized.
func (s PositionSnapshot) TotalPnL() int64 {
	return s.RealizedPnL + s.UnrealizedPnL
}
