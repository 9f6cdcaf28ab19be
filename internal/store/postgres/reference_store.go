package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

// ReferenceStore reads the back-office dictionaries used for cold-path
// enrichment. The tables are small (thousands of rows) so LoadAll pulls
// them whole; the refdata package holds the in-memory snapshot.
type ReferenceStore struct {
	pool *pgxpool.Pool
}

// NewReferenceStore creates a ReferenceStore backed by the given pool.
func NewReferenceStore(pool *pgxpool.Pool) *ReferenceStore {
	return &ReferenceStore{pool: pool}
}

// LoadAll reads every dictionary in one pass and returns a consistent
// snapshot.
func (s *ReferenceStore) LoadAll(ctx context.Context) (*domain.ReferenceSnapshot, error) {
	snap := &domain.ReferenceSnapshot{
		Traders:    make(map[string]domain.TraderInfo),
		Accounts:   make(map[string]domain.AccountInfo),
		Strategies: make(map[string]domain.StrategyInfo),
		Securities: make(map[string]domain.SecurityInfo),
		Exchanges:  make(map[string]domain.ExchangeInfo),
		LoadedAt:   time.Now().UTC(),
	}

	if err := s.loadTraders(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadAccounts(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadStrategies(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadSecurities(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadExchanges(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *ReferenceStore) loadTraders(ctx context.Context, snap *domain.ReferenceSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT trader_id, name, mpid, crd, department FROM ref_traders`)
	if err != nil {
		return fmt.Errorf("postgres: load traders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.TraderInfo
		if err := rows.Scan(&t.TraderID, &t.Name, &t.MPID, &t.CRD, &t.Department); err != nil {
			return fmt.Errorf("postgres: scan trader: %w", err)
		}
		snap.Traders[t.TraderID] = t
	}
	return rows.Err()
}

func (s *ReferenceStore) loadAccounts(ctx context.Context, snap *domain.ReferenceSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT account, account_type, strategy_code FROM ref_accounts`)
	if err != nil {
		return fmt.Errorf("postgres: load accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.AccountInfo
		if err := rows.Scan(&a.Account, &a.AccountType, &a.StrategyCode); err != nil {
			return fmt.Errorf("postgres: scan account: %w", err)
		}
		snap.Accounts[a.Account] = a
	}
	return rows.Err()
}

func (s *ReferenceStore) loadStrategies(ctx context.Context, snap *domain.ReferenceSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT code, name, type FROM ref_strategies`)
	if err != nil {
		return fmt.Errorf("postgres: load strategies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st domain.StrategyInfo
		if err := rows.Scan(&st.Code, &st.Name, &st.Type); err != nil {
			return fmt.Errorf("postgres: scan strategy: %w", err)
		}
		snap.Strategies[st.Code] = st
	}
	return rows.Err()
}

func (s *ReferenceStore) loadSecurities(ctx context.Context, snap *domain.ReferenceSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, cusip, sedol, isin, security_name FROM ref_securities`)
	if err != nil {
		return fmt.Errorf("postgres: load securities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sec domain.SecurityInfo
		if err := rows.Scan(&sec.Symbol, &sec.CUSIP, &sec.SEDOL, &sec.ISIN, &sec.SecurityName); err != nil {
			return fmt.Errorf("postgres: scan security: %w", err)
		}
		snap.Securities[sec.Symbol] = sec
	}
	return rows.Err()
}

func (s *ReferenceStore) loadExchanges(ctx context.Context, snap *domain.ReferenceSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT exchange, mic FROM ref_exchanges`)
	if err != nil {
		return fmt.Errorf("postgres: load exchanges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.ExchangeInfo
		if err := rows.Scan(&e.Exchange, &e.MIC); err != nil {
			return fmt.Errorf("postgres: scan exchange: %w", err)
		}
		snap.Exchanges[e.Exchange] = e
	}
	return rows.Err()
}

// Compile-time interface check.
var _ domain.ReferenceStore = (*ReferenceStore)(nil)
