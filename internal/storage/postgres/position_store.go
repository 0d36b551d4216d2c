package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
//
// Every mutation is a single UPDATE whose right-hand sides read the OLD row,
// so relative deltas, the derived avg_entry_price, and the realized-PnL
// accrual are all computed atomically against the state the statement sees.
// Two concurrent writers serialize on the row lock and neither loses a delta.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, wallet, mint, still_holding, tracking_enabled,
	current_balance, current_balance_usd,
	entry_market_cap, entry_balance, entry_balance_usd, entry_timestamp,
	total_bought_tokens, total_bought_usd, total_sold_tokens, total_sold_usd,
	avg_entry_price, buy_count, sell_count,
	realized_pnl, pnl_ratio, fpnl_ratio,
	exit_market_cap, exit_detected_at, position_checked_at,
	tracking_stopped_at, tracking_stopped_reason,
	version, created_at
`

// Get retrieves a position by (wallet, mint). Returns ErrNotFound if not exists.
func (s *PositionStore) Get(ctx context.Context, wallet, mint string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE wallet = $1 AND mint = $2`

	row := s.pool.QueryRow(ctx, query, wallet, mint)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// UpsertEntry creates the position with its entry fields. On conflict only
// holding state and balance are refreshed: entry fields and aggregates are
// insert-only and survive re-discovery of the same (wallet, mint).
func (s *PositionStore) UpsertEntry(ctx context.Context, p *domain.Position) (int64, error) {
	if p.Wallet == "" || p.Mint == "" {
		return 0, storage.ErrInvalidInput
	}

	entryTS := p.EntryTimestamp
	if entryTS.IsZero() {
		entryTS = time.Now().UTC()
	}

	query := `
		INSERT INTO positions (
			wallet, mint, still_holding, tracking_enabled,
			current_balance, current_balance_usd,
			entry_market_cap, entry_balance, entry_balance_usd, entry_timestamp,
			total_bought_tokens, total_bought_usd, avg_entry_price, buy_count
		) VALUES (
			$1, $2, TRUE, TRUE,
			$3, $4,
			$5, $6, $7, $8,
			$9, $10, COALESCE($10 / NULLIF($9, 0), 0), $11
		)
		ON CONFLICT (wallet, mint) DO UPDATE SET
			still_holding       = TRUE,
			current_balance     = EXCLUDED.current_balance,
			current_balance_usd = EXCLUDED.current_balance_usd,
			version             = positions.version + 1
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		p.Wallet, p.Mint,
		p.CurrentBalance, p.CurrentBalanceUsd,
		p.EntryMarketCap, p.EntryBalance, p.EntryBalanceUsd, entryTS,
		p.TotalBoughtTokens, p.TotalBoughtUsd, p.BuyCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert position entry: %w", err)
	}
	return id, nil
}

// ApplyBuy adds a buy to the bought aggregates and re-derives avg_entry_price
// from the post-delta totals in the same statement.
func (s *PositionStore) ApplyBuy(ctx context.Context, params storage.BuyParams) error {
	query := `
		UPDATE positions SET
			total_bought_tokens = total_bought_tokens + $3,
			total_bought_usd    = total_bought_usd + $4,
			avg_entry_price     = COALESCE((total_bought_usd + $4) / NULLIF(total_bought_tokens + $3, 0), 0),
			buy_count           = buy_count + 1,
			current_balance     = $5,
			current_balance_usd = $6,
			still_holding       = TRUE,
			position_checked_at = now(),
			version             = version + 1
		WHERE wallet = $1 AND mint = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		params.Wallet, params.Mint,
		params.Tokens, params.Usd,
		params.NewBalance, params.NewBalanceUsd,
	)
	if err != nil {
		return fmt.Errorf("apply buy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplySell adds a sell to the sold aggregates and accrues the realized-PnL
// delta against the stored avg_entry_price. On full exit it closes the
// position, zeroes the balance (any dust remainder included) and records
// pnl ratio, fpnl ratio, and exit fields; exit fields
// are set exactly once and never overwritten on replays.
func (s *PositionStore) ApplySell(ctx context.Context, params storage.SellParams) error {
	query := `
		UPDATE positions SET
			total_sold_tokens   = total_sold_tokens + $3,
			total_sold_usd      = total_sold_usd + $4,
			sell_count          = sell_count + 1,
			realized_pnl        = realized_pnl + ($4 - $3 * avg_entry_price),
			current_balance     = CASE WHEN $7 THEN 0 ELSE $5 END,
			current_balance_usd = CASE WHEN $7 THEN 0 ELSE $6 END,
			still_holding       = CASE WHEN $7 THEN FALSE ELSE still_holding END,
			pnl_ratio           = CASE WHEN $7
				THEN COALESCE(($4 / NULLIF($3, 0)) / NULLIF(avg_entry_price, 0), pnl_ratio)
				ELSE pnl_ratio END,
			fpnl_ratio          = CASE WHEN $7
				THEN COALESCE($9 / NULLIF(entry_market_cap, 0), fpnl_ratio)
				ELSE fpnl_ratio END,
			exit_market_cap     = CASE WHEN $7 AND exit_market_cap = 0 THEN $8 ELSE exit_market_cap END,
			exit_detected_at    = CASE WHEN $7 THEN COALESCE(exit_detected_at, now()) ELSE exit_detected_at END,
			position_checked_at = now(),
			version             = version + 1
		WHERE wallet = $1 AND mint = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		params.Wallet, params.Mint,
		params.Tokens, params.Usd,
		params.NewBalance, params.NewBalanceUsd,
		params.IsFullExit, params.ExitMarketCap, params.CurrentMarketCap,
	)
	if err != nil {
		return fmt.Errorf("apply sell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ReactivateForBuy reopens a closed position as a fresh buy sequence:
// bought/sold aggregates reset to the new buy, buy_count/sell_count stay
// monotonic, realized_pnl stays cumulative, and the prior exit fields are
// preserved. Returns ErrNotFound if the position does not exist or is open.
func (s *PositionStore) ReactivateForBuy(ctx context.Context, params storage.ReactivateParams) error {
	query := `
		UPDATE positions SET
			still_holding       = TRUE,
			tracking_enabled    = TRUE,
			current_balance     = $3,
			current_balance_usd = $5,
			total_bought_tokens = $3,
			total_bought_usd    = $4,
			total_sold_tokens   = 0,
			total_sold_usd      = 0,
			avg_entry_price     = COALESCE($4 / NULLIF($3, 0), 0),
			buy_count           = buy_count + 1,
			entry_market_cap    = $6,
			entry_balance       = $3,
			entry_balance_usd   = $5,
			entry_timestamp     = now(),
			pnl_ratio           = 0,
			position_checked_at = now(),
			version             = version + 1
		WHERE wallet = $1 AND mint = $2 AND NOT still_holding
	`

	tag, err := s.pool.Exec(ctx, query,
		params.Wallet, params.Mint,
		params.Tokens, params.Usd, params.NewBalanceUsd,
		params.EntryMarketCap,
	)
	if err != nil {
		return fmt.Errorf("reactivate position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateHolding refreshes balance and pnl ratio for a no-delta check.
// A zero pnlRatio retains the stored value (price unavailable).
func (s *PositionStore) UpdateHolding(ctx context.Context, wallet, mint string, balance, balanceUsd, pnlRatio float64) error {
	query := `
		UPDATE positions SET
			current_balance     = $3,
			current_balance_usd = $4,
			pnl_ratio           = CASE WHEN $5 = 0 THEN pnl_ratio ELSE $5 END,
			position_checked_at = now(),
			version             = version + 1
		WHERE wallet = $1 AND mint = $2
	`

	tag, err := s.pool.Exec(ctx, query, wallet, mint, balance, balanceUsd, pnlRatio)
	if err != nil {
		return fmt.Errorf("update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkSoldOut closes a position from a price-based estimate when no sell
// transaction could be resolved. Zero ratios retain the stored values.
func (s *PositionStore) MarkSoldOut(ctx context.Context, wallet, mint string, pnlRatio, fpnlRatio, exitMarketCap float64) error {
	query := `
		UPDATE positions SET
			still_holding       = FALSE,
			current_balance     = 0,
			current_balance_usd = 0,
			pnl_ratio           = CASE WHEN $3 = 0 THEN pnl_ratio ELSE $3 END,
			fpnl_ratio          = CASE WHEN $4 = 0 THEN fpnl_ratio ELSE $4 END,
			exit_market_cap     = CASE WHEN exit_market_cap = 0 THEN $5 ELSE exit_market_cap END,
			exit_detected_at    = COALESCE(exit_detected_at, now()),
			position_checked_at = now(),
			version             = version + 1
		WHERE wallet = $1 AND mint = $2
	`

	tag, err := s.pool.Exec(ctx, query, wallet, mint, pnlRatio, fpnlRatio, exitMarketCap)
	if err != nil {
		return fmt.Errorf("mark sold out: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkChecked stamps position_checked_at without other mutation. Scan
// branches that change nothing else still call this, so a position can
// never starve the stale queue.
func (s *PositionStore) MarkChecked(ctx context.Context, id int64) error {
	query := `
		UPDATE positions SET
			position_checked_at = now(),
			version             = version + 1
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListStale returns holding, tracking-enabled positions not checked within
// staleThreshold whose wallet holds at least minTokenGate distinct tracked
// mints, oldest-checked first. Never-checked positions sort first.
func (s *PositionStore) ListStale(ctx context.Context, staleThreshold time.Duration, minTokenGate, limit int) ([]*domain.Position, error) {
	cutoff := time.Now().UTC().Add(-staleThreshold)

	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE still_holding AND tracking_enabled
		  AND (position_checked_at IS NULL OR position_checked_at < $1)
		  AND wallet IN (
			SELECT wallet FROM positions GROUP BY wallet HAVING COUNT(DISTINCT mint) >= $2
		  )
		ORDER BY position_checked_at ASC NULLS FIRST, id ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, cutoff, minTokenGate, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListNeedingReconciliation returns closed positions whose sell was never
// priced. Empty mint means all mints.
func (s *PositionStore) ListNeedingReconciliation(ctx context.Context, mint string, limit int) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE NOT still_holding
		  AND (total_sold_usd = 0 OR sell_count = 0)
		  AND ($1 = '' OR mint = $1)
		ORDER BY exit_detected_at ASC NULLS FIRST, id ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, mint, limit)
	if err != nil {
		return nil, fmt.Errorf("list positions needing reconciliation: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ApplySellReconciliation backfills sell aggregates and pnl on a closed
// position. Entry fields and buy_count are never touched.
func (s *PositionStore) ApplySellReconciliation(ctx context.Context, params storage.ReconcileSellParams) error {
	query := `
		UPDATE positions SET
			total_sold_tokens = total_sold_tokens + $3,
			total_sold_usd    = total_sold_usd + $4,
			sell_count        = sell_count + 1,
			realized_pnl      = realized_pnl + ($4 - $3 * avg_entry_price),
			pnl_ratio         = COALESCE(($4 / NULLIF($3, 0)) / NULLIF(avg_entry_price, 0), pnl_ratio),
			exit_market_cap   = CASE WHEN exit_market_cap = 0 THEN $5 ELSE exit_market_cap END,
			version           = version + 1
		WHERE wallet = $1 AND mint = $2 AND NOT still_holding
	`

	tag, err := s.pool.Exec(ctx, query,
		params.Wallet, params.Mint,
		params.Tokens, params.Usd, params.ExitMarketCap,
	)
	if err != nil {
		return fmt.Errorf("apply sell reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RefreshHoldingPnl bulk-updates pnl_ratio and fpnl_ratio for holding
// positions of a mint. While holding the two ratios share the same
// market-cap formula. Returns rows updated.
func (s *PositionStore) RefreshHoldingPnl(ctx context.Context, mint string, currentMarketCap float64) (int64, error) {
	query := `
		UPDATE positions SET
			pnl_ratio  = $2 / entry_market_cap,
			fpnl_ratio = $2 / entry_market_cap,
			version    = version + 1
		WHERE mint = $1 AND still_holding AND tracking_enabled AND entry_market_cap > 0
	`

	tag, err := s.pool.Exec(ctx, query, mint, currentMarketCap)
	if err != nil {
		return 0, fmt.Errorf("refresh holding pnl: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RefreshSoldFpnl bulk-updates the counterfactual fpnl_ratio for sold
// positions of a mint. Returns rows updated.
func (s *PositionStore) RefreshSoldFpnl(ctx context.Context, mint string, currentMarketCap float64) (int64, error) {
	query := `
		UPDATE positions SET
			fpnl_ratio = $2 / entry_market_cap,
			version    = version + 1
		WHERE mint = $1 AND NOT still_holding AND entry_market_cap > 0
	`

	tag, err := s.pool.Exec(ctx, query, mint, currentMarketCap)
	if err != nil {
		return 0, fmt.Errorf("refresh sold fpnl: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StopTracking freezes a position. The row and its history stay intact.
func (s *PositionStore) StopTracking(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE positions SET
			tracking_enabled        = FALSE,
			tracking_stopped_at     = now(),
			tracking_stopped_reason = $2,
			version                 = version + 1
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("stop tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ResumeTracking re-enables a stopped position.
func (s *PositionStore) ResumeTracking(ctx context.Context, id int64) error {
	query := `
		UPDATE positions SET
			tracking_enabled        = TRUE,
			tracking_stopped_at     = NULL,
			tracking_stopped_reason = '',
			version                 = version + 1
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("resume tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPnlRatios returns all non-zero pnl ratios for a wallet.
func (s *PositionStore) ListPnlRatios(ctx context.Context, wallet string) ([]float64, error) {
	query := `SELECT pnl_ratio FROM positions WHERE wallet = $1 AND pnl_ratio <> 0`
	return s.queryRatios(ctx, query, wallet)
}

// ListClosedPnlRatios returns non-zero pnl ratios of closed positions only.
func (s *PositionStore) ListClosedPnlRatios(ctx context.Context, wallet string) ([]float64, error) {
	query := `SELECT pnl_ratio FROM positions WHERE wallet = $1 AND NOT still_holding AND pnl_ratio <> 0`
	return s.queryRatios(ctx, query, wallet)
}

func (s *PositionStore) queryRatios(ctx context.Context, query, wallet string) ([]float64, error) {
	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("list pnl ratios: %w", err)
	}
	defer rows.Close()

	var ratios []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan pnl ratio: %w", err)
		}
		ratios = append(ratios, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl ratios: %w", err)
	}
	return ratios, nil
}

// ListByWallet returns all positions for a wallet, newest entry first.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE wallet = $1
		ORDER BY entry_timestamp DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("list positions by wallet: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListDistinctMints returns every mint with at least one position.
func (s *PositionStore) ListDistinctMints(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT mint FROM positions ORDER BY mint`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list distinct mints: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListActiveWallets returns wallets with at least one holding,
// tracking-enabled position.
func (s *PositionStore) ListActiveWallets(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT wallet FROM positions WHERE still_holding AND tracking_enabled ORDER BY wallet`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active wallets: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// PurgeAll wipes all positions. Administrative only.
func (s *PositionStore) PurgeAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions`)
	if err != nil {
		return 0, fmt.Errorf("purge positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan string row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate string rows: %w", err)
	}
	return out, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var exitDetectedAt, positionCheckedAt, trackingStoppedAt *time.Time

	err := row.Scan(
		&p.ID, &p.Wallet, &p.Mint, &p.StillHolding, &p.TrackingEnabled,
		&p.CurrentBalance, &p.CurrentBalanceUsd,
		&p.EntryMarketCap, &p.EntryBalance, &p.EntryBalanceUsd, &p.EntryTimestamp,
		&p.TotalBoughtTokens, &p.TotalBoughtUsd, &p.TotalSoldTokens, &p.TotalSoldUsd,
		&p.AvgEntryPrice, &p.BuyCount, &p.SellCount,
		&p.RealizedPnl, &p.PnlRatio, &p.FpnlRatio,
		&p.ExitMarketCap, &exitDetectedAt, &positionCheckedAt,
		&trackingStoppedAt, &p.TrackingStoppedReason,
		&p.Version, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exitDetectedAt != nil {
		p.ExitDetectedAt = *exitDetectedAt
	}
	if positionCheckedAt != nil {
		p.PositionCheckedAt = *positionCheckedAt
	}
	if trackingStoppedAt != nil {
		p.TrackingStoppedAt = *trackingStoppedAt
	}

	return &p, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}
