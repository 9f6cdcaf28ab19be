package coldpath

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// dayLister reads one UTC day of persisted trades in offset order.
type dayLister interface {
	ListForDay(ctx context.Context, day time.Time) ([]domain.EnrichedTrade, error)
}

// multipartPutter uploads large objects in parts.
type multipartPutter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// objectChecker reports whether an export object is already in the bucket.
type objectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Exporter writes a JSONL export of each completed UTC day to the
// compliance bucket at exports/trades/YYYY-MM-DD.jsonl. A day whose object
// is already present is skipped, so the startup catch-up run is a single
// HEAD request on every restart after the first.
type Exporter struct {
	store   dayLister
	blob    multipartPutter
	checker objectChecker
	logger  *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(store dayLister, blob multipartPutter, checker objectChecker, logger *slog.Logger) *Exporter {
	return &Exporter{
		store:   store,
		blob:    blob,
		checker: checker,
		logger:  logger.With(slog.String("component", "export")),
	}
}

// Run exports yesterday once at startup, then the previous day shortly
// after every UTC midnight, until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	for {
		if err := e.ExportDay(ctx, time.Now().UTC().AddDate(0, 0, -1)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.ErrorContext(ctx, "daily export failed",
				slog.String("error", err.Error()))
		}

		timer := time.NewTimer(untilNextExport(time.Now().UTC()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ExportDay serializes one UTC day of trades as JSONL and uploads it,
// unless that day's object already exists.
func (e *Exporter) ExportDay(ctx context.Context, day time.Time) error {
	path := fmt.Sprintf("exports/trades/%s.jsonl", day.Format("2006-01-02"))

	present, err := e.checker.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("coldpath: check export %s: %w", path, err)
	}
	if present {
		e.logger.InfoContext(ctx, "export already uploaded, skipping",
			slog.String("path", path))
		return nil
	}

	trades, err := e.store.ListForDay(ctx, day)
	if err != nil {
		return fmt.Errorf("coldpath: export %s: %w", day.Format("2006-01-02"), err)
	}
	if len(trades) == 0 {
		e.logger.InfoContext(ctx, "no trades to export",
			slog.String("day", day.Format("2006-01-02")))
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range trades {
		if err := enc.Encode(exportRow(&trades[i])); err != nil {
			return fmt.Errorf("coldpath: encode export row %d: %w", i, err)
		}
	}

	if err := e.blob.PutMultipart(ctx, path, &buf, "application/x-ndjson", 0); err != nil {
		return fmt.Errorf("coldpath: upload export: %w", err)
	}

	e.logger.InfoContext(ctx, "daily export uploaded",
		slog.String("path", path),
		slog.Int("trades", len(trades)),
	)
	return nil
}

// exportRow flattens an enriched trade for the JSONL export. Raw bytes are
// omitted; the per-message archive already holds them.
func exportRow(t *domain.EnrichedTrade) map[string]any {
	return map[string]any{
		"exec_id":         t.ExecID,
		"symbol":          t.Symbol,
		"quantity":        t.Quantity,
		"price_mantissa":  t.PriceMantissa,
		"side":            t.Side,
		"exec_ts":         t.ExecTS,
		"order_id":        t.OrderID,
		"client_order_id": t.ClientOrderID,
		"trader_id":       t.TraderID,
		"account":         t.Account,
		"exchange":        t.Exchange,
		"trader_name":     t.TraderName,
		"trader_mpid":     t.TraderMPID,
		"account_type":    t.AccountType,
		"strategy_code":   t.StrategyCode,
		"cusip":           t.CUSIP,
		"isin":            t.ISIN,
		"mic":             t.MIC,
	}
}

// untilNextExport returns the wait until 00:15 UTC of the next day; the
// margin lets late cold-path flushes land before the export reads.
func untilNextExport(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 15, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
