// Package domain defines the core data model for the trade processing
// pipeline: the immutable trade envelope produced at ingestion, the enriched
// regulatory record, per-trader position state, dead-letter envelopes, and
// the interfaces implemented by the cache, store, blob, and event-log
// adapters.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the execution side of a trade.
type Side string

const (
	SideBuy       Side = "BUY"
	SideSell      Side = "SELL"
	SideSellShort Side = "SELL_SHORT"
)

// ValidSide reports whether s is one of the recognised execution sides.
func ValidSide(s Side) bool {
	switch s {
	case SideBuy, SideSell, SideSellShort:
		return true
	}
	return false
}

// IsSell reports whether the side reduces inventory.
func (s Side) IsSell() bool {
	return s == SideSell || s == SideSellShort
}

// TradeEnvelope is the canonical record of one execution. It is created at
// ingestion, published once to the trades log, and never mutated. Monetary
// values carry the fixed-point mantissa convention (decimal × 10⁸).
type TradeEnvelope struct {
	ExecID        string
	Symbol        string
	Quantity      int64
	PriceMantissa int64
	Side          Side
	ExecTS        time.Time
	OrderID       string
	ClientOrderID string
	TraderID      string
	Account       string
	Exchange      string
	GatewayID     string
	ReceiveTS     time.Time
	// RawBytes is the original wire message as received from the exchange
	// gateway, preserved verbatim for archival.
	RawBytes []byte
}

// receiveSkew is the tolerated clock skew between exec_ts and receive_ts.
const receiveSkew = 5 * time.Second

// Validate checks the structural invariants of the envelope. Violations are
// classified as KindValidation so they route to the DLQ with the right
// reason.
func (t *TradeEnvelope) Validate() error {
	var errs []string

	if t.ExecID == "" {
		errs = append(errs, "exec_id is required")
	}
	if t.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if t.TraderID == "" {
		errs = append(errs, "trader_id is required")
	}
	if t.Account == "" {
		errs = append(errs, "account is required")
	}
	if t.Exchange == "" {
		errs = append(errs, "exchange is required")
	}
	if t.Quantity <= 0 {
		errs = append(errs, fmt.Sprintf("quantity must be > 0, got %d", t.Quantity))
	}
	if t.PriceMantissa <= 0 {
		errs = append(errs, fmt.Sprintf("price_mantissa must be > 0, got %d", t.PriceMantissa))
	}
	if !ValidSide(t.Side) {
		errs = append(errs, fmt.Sprintf("unknown side %q", t.Side))
	}
	if t.ExecTS.IsZero() {
		errs = append(errs, "exec_ts must be set")
	}
	if !t.ReceiveTS.IsZero() && !t.ExecTS.IsZero() {
		if t.ReceiveTS.Before(t.ExecTS.Add(-receiveSkew)) {
			errs = append(errs, "receive_ts precedes exec_ts beyond tolerated skew")
		}
	}

	if len(errs) > 0 {
		return Classify(KindValidation,
			fmt.Errorf("trade %s: %s", t.ExecID, strings.Join(errs, "; ")))
	}
	return nil
}

// EnrichedTrade is the regulatory projection of a TradeEnvelope: the
// envelope fields plus reference-data attributes resolved on the cold path.
// Enrichment fields stay empty when the reference lookup misses; the record
// is persisted regardless.
type EnrichedTrade struct {
	TradeEnvelope

	TraderName   string
	TraderMPID   string
	TraderCRD    string
	AccountType  string
	StrategyCode string
	StrategyName string
	StrategyType string
	CUSIP        string
	SEDOL        string
	ISIN         string
	SecurityName string
	MIC          string
	EnrichmentTS time.Time
}
