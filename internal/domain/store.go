package domain

import (
	"context"
	"time"
)

// TradeStore persists enriched trades durably. InsertBatch is idempotent:
// the store enforces exec_id uniqueness server-side and repeat attempts
// leave it unchanged.
type TradeStore interface {
	// InsertBatch writes the batch in one transaction using a multi-row
	// insert that skips rows whose exec_id already exists. It returns the
	// number of rows actually inserted.
	InsertBatch(ctx context.Context, trades []EnrichedTrade) (int64, error)
}

// ReferenceSnapshot is one consistent read of the reference dictionaries.
type ReferenceSnapshot struct {
	Traders    map[string]TraderInfo
	Accounts   map[string]AccountInfo
	Strategies map[string]StrategyInfo
	Securities map[string]SecurityInfo
	Exchanges  map[string]ExchangeInfo
	LoadedAt   time.Time
}

// ReferenceStore reads the reference dictionaries used for cold-path
// enrichment. Implementations are read-only.
type ReferenceStore interface {
	LoadAll(ctx context.Context) (*ReferenceSnapshot, error)
}

// TraderInfo resolves a trader_id.
type TraderInfo struct {
	TraderID   string
	Name       string
	MPID       string
	CRD        string
	Department string
}

// AccountInfo resolves an account code. StrategyCode links the account to
// its strategy dictionary entry; trades carry no strategy field of their
// own.
type AccountInfo struct {
	Account      string
	AccountType  string
	StrategyCode string
}

// StrategyInfo resolves a strategy code.
type StrategyInfo struct {
	Code string
	Name string
	Type string
}

// SecurityInfo resolves a symbol to its identifiers.
type SecurityInfo struct {
	Symbol       string
	CUSIP        string
	SEDOL        string
	ISIN         string
	SecurityName string
}

// ExchangeInfo resolves an exchange code to its MIC.
type ExchangeInfo struct {
	Exchange string
	MIC      string
}
