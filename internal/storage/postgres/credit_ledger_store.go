package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// CreditLedgerStore implements storage.CreditLedgerStore using PostgreSQL.
type CreditLedgerStore struct {
	pool *Pool
}

// NewCreditLedgerStore creates a new CreditLedgerStore.
func NewCreditLedgerStore(pool *Pool) *CreditLedgerStore {
	return &CreditLedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CreditLedgerStore = (*CreditLedgerStore)(nil)

// Record appends one usage row.
func (s *CreditLedgerStore) Record(ctx context.Context, usage *domain.CreditUsage) error {
	if usage.Operation == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO credit_usage (operation, credits, wallet, mint)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, usage.Operation, usage.Credits, usage.Wallet, usage.Mint)
	if err != nil {
		return fmt.Errorf("record credit usage: %w", err)
	}
	return nil
}

// UsageSince returns total credits recorded at or after since.
func (s *CreditLedgerStore) UsageSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(credits), 0)
		FROM credit_usage
		WHERE recorded_at >= $1
	`

	var total int
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum credit usage: %w", err)
	}
	return total, nil
}

// UsageByOperation returns credits per operation recorded at or after since.
func (s *CreditLedgerStore) UsageByOperation(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT operation, COALESCE(SUM(credits), 0)
		FROM credit_usage
		WHERE recorded_at >= $1
		GROUP BY operation
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("sum credit usage by operation: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var op string
		var credits int
		if err := rows.Scan(&op, &credits); err != nil {
			return nil, fmt.Errorf("scan credit usage row: %w", err)
		}
		usage[op] = credits
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit usage rows: %w", err)
	}
	return usage, nil
}
