package memory

import (
	"context"
	"sync"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// CreditLedgerStore is an in-memory implementation of storage.CreditLedgerStore.
type CreditLedgerStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []*domain.CreditUsage
}

// NewCreditLedgerStore creates a new in-memory credit ledger.
func NewCreditLedgerStore() *CreditLedgerStore {
	return &CreditLedgerStore{nextID: 1}
}

// Compile-time interface check.
var _ storage.CreditLedgerStore = (*CreditLedgerStore)(nil)

// Record appends one usage row.
func (s *CreditLedgerStore) Record(_ context.Context, usage *domain.CreditUsage) error {
	if usage == nil || usage.Operation == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *usage
	cp.ID = s.nextID
	s.nextID++
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, &cp)
	return nil
}

// UsageSince returns total credits recorded at or after since.
func (s *CreditLedgerStore) UsageSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, row := range s.rows {
		if !row.RecordedAt.Before(since) {
			total += row.Credits
		}
	}
	return total, nil
}

// UsageByOperation returns credits per operation recorded at or after since.
func (s *CreditLedgerStore) UsageByOperation(_ context.Context, since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usage := make(map[string]int)
	for _, row := range s.rows {
		if !row.RecordedAt.Before(since) {
			usage[row.Operation] += row.Credits
		}
	}
	return usage, nil
}
