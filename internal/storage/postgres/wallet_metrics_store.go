package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// WalletMetricsStore implements storage.WalletMetricsStore using PostgreSQL.
type WalletMetricsStore struct {
	pool *Pool
}

// NewWalletMetricsStore creates a new WalletMetricsStore.
func NewWalletMetricsStore(pool *Pool) *WalletMetricsStore {
	return &WalletMetricsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletMetricsStore = (*WalletMetricsStore)(nil)

// Upsert writes the recomputed metrics for a wallet.
func (s *WalletMetricsStore) Upsert(ctx context.Context, m *domain.WalletMetrics) error {
	if m.Wallet == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO wallet_metrics (
			wallet, win_count, loss_count, total_positions,
			win_rate, avg_pnl_ratio, expectancy, closed_count, label, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (wallet) DO UPDATE SET
			win_count       = EXCLUDED.win_count,
			loss_count      = EXCLUDED.loss_count,
			total_positions = EXCLUDED.total_positions,
			win_rate        = EXCLUDED.win_rate,
			avg_pnl_ratio   = EXCLUDED.avg_pnl_ratio,
			expectancy      = EXCLUDED.expectancy,
			closed_count    = EXCLUDED.closed_count,
			label           = EXCLUDED.label,
			updated_at      = now()
	`

	_, err := s.pool.Exec(ctx, query,
		m.Wallet, m.WinCount, m.LossCount, m.TotalPositions,
		m.WinRate, m.AvgPnlRatio, m.Expectancy, m.ClosedCount, m.Label,
	)
	if err != nil {
		return fmt.Errorf("upsert wallet metrics: %w", err)
	}
	return nil
}

// Get retrieves metrics for a wallet. Returns ErrNotFound if not exists.
func (s *WalletMetricsStore) Get(ctx context.Context, wallet string) (*domain.WalletMetrics, error) {
	query := `
		SELECT wallet, win_count, loss_count, total_positions,
		       win_rate, avg_pnl_ratio, expectancy, closed_count, label, updated_at
		FROM wallet_metrics
		WHERE wallet = $1
	`

	m, err := scanWalletMetrics(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet metrics: %w", err)
	}
	return m, nil
}

// ListByExpectancy returns wallets with at least minClosed closed positions,
// best expectancy first.
func (s *WalletMetricsStore) ListByExpectancy(ctx context.Context, minClosed, limit int) ([]*domain.WalletMetrics, error) {
	query := `
		SELECT wallet, win_count, loss_count, total_positions,
		       win_rate, avg_pnl_ratio, expectancy, closed_count, label, updated_at
		FROM wallet_metrics
		WHERE closed_count >= $1
		ORDER BY expectancy DESC, wallet ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, minClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet metrics by expectancy: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.WalletMetrics
	for rows.Next() {
		m, err := scanWalletMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet metrics row: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet metrics rows: %w", err)
	}
	return metrics, nil
}

// PurgeAll wipes all wallet metrics. Administrative only.
func (s *WalletMetricsStore) PurgeAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_metrics`)
	if err != nil {
		return 0, fmt.Errorf("purge wallet metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWalletMetrics(row pgx.Row) (*domain.WalletMetrics, error) {
	var m domain.WalletMetrics
	err := row.Scan(
		&m.Wallet, &m.WinCount, &m.LossCount, &m.TotalPositions,
		&m.WinRate, &m.AvgPnlRatio, &m.Expectancy, &m.ClosedCount, &m.Label, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
