// Package coldpath is the regulatory pipeline: every trade on the log is
// enriched from the reference dictionaries and bulk-inserted into Postgres
// idempotently. Accuracy beats latency here; the path retries, splits and
// dead-letters rather than drop a record.
package coldpath

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/domain"
	"github.com/alanyoungcy/tradeflow/internal/metrics"
	"github.com/alanyoungcy/tradeflow/internal/refdata"
)

// Enricher resolves reference attributes onto trade envelopes. Misses leave
// the fields empty and count per dictionary; a trade is never rejected for
// missing reference data.
type Enricher struct {
	dicts   *refdata.Dictionaries
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewEnricher creates an Enricher over the given dictionaries.
func NewEnricher(dicts *refdata.Dictionaries, m *metrics.Registry, logger *slog.Logger) *Enricher {
	return &Enricher{
		dicts:   dicts,
		metrics: m,
		logger:  logger.With(slog.String("component", "enrich")),
	}
}

// Enrich builds the regulatory projection of one envelope. The strategy is
// resolved transitively: account → strategy_code → strategy dictionary.
func (e *Enricher) Enrich(t *domain.TradeEnvelope) domain.EnrichedTrade {
	out := domain.EnrichedTrade{
		TradeEnvelope: *t,
		EnrichmentTS:  time.Now().UTC(),
	}

	if trader, ok := e.dicts.Trader(t.TraderID); ok {
		out.TraderName = trader.Name
		out.TraderMPID = trader.MPID
		out.TraderCRD = trader.CRD
	} else {
		e.miss("traders", t.ExecID, t.TraderID)
	}

	if acct, ok := e.dicts.Account(t.Account); ok {
		out.AccountType = acct.AccountType
		out.StrategyCode = acct.StrategyCode
		if acct.StrategyCode != "" {
			if strat, ok := e.dicts.Strategy(acct.StrategyCode); ok {
				out.StrategyName = strat.Name
				out.StrategyType = strat.Type
			} else {
				e.miss("strategies", t.ExecID, acct.StrategyCode)
			}
		}
	} else {
		e.miss("accounts", t.ExecID, t.Account)
	}

	if sec, ok := e.dicts.Security(t.Symbol); ok {
		out.CUSIP = sec.CUSIP
		out.SEDOL = sec.SEDOL
		out.ISIN = sec.ISIN
		out.SecurityName = sec.SecurityName
	} else {
		e.miss("securities", t.ExecID, t.Symbol)
	}

	if exch, ok := e.dicts.Exchange(t.Exchange); ok {
		out.MIC = exch.MIC
	} else {
		e.miss("exchanges", t.ExecID, t.Exchange)
	}

	return out
}

func (e *Enricher) miss(dictionary, execID, key string) {
	e.metrics.EnrichmentMiss.WithLabelValues(dictionary).Inc()
	e.logger.Debug("enrichment miss",
		slog.String("dictionary", dictionary),
		slog.String("exec_id", execID),
		slog.String("key", key),
	)
}
