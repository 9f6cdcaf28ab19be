// Package refdata holds the in-memory reference dictionaries used for
// cold-path enrichment. The dictionaries are loaded whole at startup and
// replaced atomically on a refresh schedule; readers always see one
// consistent snapshot.
package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// Dictionaries serves read-only reference lookups. All methods are safe for
// concurrent use.
type Dictionaries struct {
	store   domain.ReferenceStore
	logger  *slog.Logger
	refresh time.Duration

	mu   sync.RWMutex
	snap *domain.ReferenceSnapshot
}

// New creates an empty Dictionaries instance. Load must succeed before the
// cold path starts consuming.
func New(store domain.ReferenceStore, refresh time.Duration, logger *slog.Logger) *Dictionaries {
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	return &Dictionaries{
		store:   store,
		logger:  logger.With(slog.String("component", "refdata")),
		refresh: refresh,
	}
}

// Load replaces the current snapshot with a fresh read of every dictionary.
func (d *Dictionaries) Load(ctx context.Context) error {
	snap, err := d.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("refdata: load: %w", err)
	}

	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "reference data loaded",
		slog.Int("traders", len(snap.Traders)),
		slog.Int("accounts", len(snap.Accounts)),
		slog.Int("strategies", len(snap.Strategies)),
		slog.Int("securities", len(snap.Securities)),
		slog.Int("exchanges", len(snap.Exchanges)),
	)
	return nil
}

// Run refreshes the snapshot on the configured interval until ctx is
// cancelled. A failed refresh keeps the previous snapshot; enrichment
// tolerates staleness but not absence.
func (d *Dictionaries) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Load(ctx); err != nil {
				d.logger.ErrorContext(ctx, "reference refresh failed, keeping previous snapshot",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Snapshot returns the current snapshot, or nil before the first Load.
func (d *Dictionaries) Snapshot() *domain.ReferenceSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Trader resolves a trader_id.
func (d *Dictionaries) Trader(id string) (domain.TraderInfo, bool) {
	snap := d.Snapshot()
	if snap == nil {
		return domain.TraderInfo{}, false
	}
	t, ok := snap.Traders[id]
	return t, ok
}

// Account resolves an account code.
func (d *Dictionaries) Account(code string) (domain.AccountInfo, bool) {
	snap := d.Snapshot()
	if snap == nil {
		return domain.AccountInfo{}, false
	}
	a, ok := snap.Accounts[code]
	return a, ok
}

// Strategy resolves a strategy code.
func (d *Dictionaries) Strategy(code string) (domain.StrategyInfo, bool) {
	snap := d.Snapshot()
	if snap == nil {
		return domain.StrategyInfo{}, false
	}
	s, ok := snap.Strategies[code]
	return s, ok
}

// Security resolves a symbol.
func (d *Dictionaries) Security(symbol string) (domain.SecurityInfo, bool) {
	snap := d.Snapshot()
	if snap == nil {
		return domain.SecurityInfo{}, false
	}
	s, ok := snap.Securities[symbol]
	return s, ok
}

// Exchange resolves an exchange code.
func (d *Dictionaries) Exchange(code string) (domain.ExchangeInfo, bool) {
	snap := d.Snapshot()
	if snap == nil {
		return domain.ExchangeInfo{}, false
	}
	e, ok := snap.Exchanges[code]
	return e, ok
}
