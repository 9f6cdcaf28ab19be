package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const insertTradeSQL = `
	INSERT INTO trades (
		exec_id, symbol, quantity, price_mantissa, side, exec_ts,
		order_id, client_order_id, trader_id, account, exchange,
		gateway_id, receive_ts,
		trader_name, trader_mpid, trader_crd, account_type,
		strategy_code, strategy_name, strategy_type,
		cusip, sedol, isin, security_name, mic, enrichment_ts
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11,
		$12, $13,
		$14, $15, $16, $17,
		$18, $19, $20,
		$21, $22, $23, $24, $25, $26
	) ON CONFLICT (exec_id) DO NOTHING`

// InsertBatch writes enriched trades with a pgx batch inside one implicit
// transaction. Rows whose exec_id already exists are skipped via ON CONFLICT
// DO NOTHING, which makes redelivery after a crash or rebalance harmless.
// The returned count is the number of rows actually inserted.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.EnrichedTrade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTradeSQL,
			t.ExecID, t.Symbol, t.Quantity, t.PriceMantissa, string(t.Side), t.ExecTS,
			t.OrderID, t.ClientOrderID, t.TraderID, t.Account, t.Exchange,
			t.GatewayID, t.ReceiveTS,
			t.TraderName, t.TraderMPID, t.TraderCRD, t.AccountType,
			t.StrategyCode, t.StrategyName, t.StrategyType,
			t.CUSIP, t.SEDOL, t.ISIN, t.SecurityName, t.MIC, t.EnrichmentTS,
		)
	}

	var inserted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		defer br.Close()

		for i := range trades {
			tag, err := br.Exec()
			if err != nil {
				return fmt.Errorf("postgres: insert trade batch item %d (%s): %w",
					i, trades[i].ExecID, err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, domain.Classify(classifyPgKind(err), err)
	}
	return inserted, nil
}

// ListForDay streams the enriched trades executed on the given UTC day in
// offset order (created_at), for the daily compliance export.
func (s *TradeStore) ListForDay(ctx context.Context, day time.Time) ([]domain.EnrichedTrade, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT exec_id, symbol, quantity, price_mantissa, side, exec_ts,
			order_id, client_order_id, trader_id, account, exchange,
			gateway_id, COALESCE(receive_ts, 'epoch'::timestamptz),
			COALESCE(trader_name, ''), COALESCE(trader_mpid, ''), COALESCE(trader_crd, ''),
			COALESCE(account_type, ''), COALESCE(strategy_code, ''),
			COALESCE(strategy_name, ''), COALESCE(strategy_type, ''),
			COALESCE(cusip, ''), COALESCE(sedol, ''), COALESCE(isin, ''),
			COALESCE(security_name, ''), COALESCE(mic, ''),
			COALESCE(enrichment_ts, 'epoch'::timestamptz)
		FROM trades
		WHERE exec_ts >= $1 AND exec_ts < $2
		ORDER BY created_at ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for day: %w", err)
	}
	defer rows.Close()

	var trades []domain.EnrichedTrade
	for rows.Next() {
		var t domain.EnrichedTrade
		var side string
		if err := rows.Scan(
			&t.ExecID, &t.Symbol, &t.Quantity, &t.PriceMantissa, &side, &t.ExecTS,
			&t.OrderID, &t.ClientOrderID, &t.TraderID, &t.Account, &t.Exchange,
			&t.GatewayID, &t.ReceiveTS,
			&t.TraderName, &t.TraderMPID, &t.TraderCRD,
			&t.AccountType, &t.StrategyCode,
			&t.StrategyName, &t.StrategyType,
			&t.CUSIP, &t.SEDOL, &t.ISIN,
			&t.SecurityName, &t.MIC,
			&t.EnrichmentTS,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades for day: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
