package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// WalletMetricsStore is an in-memory implementation of storage.WalletMetricsStore.
type WalletMetricsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WalletMetrics
}

// NewWalletMetricsStore creates a new in-memory wallet metrics store.
func NewWalletMetricsStore() *WalletMetricsStore {
	return &WalletMetricsStore{
		data: make(map[string]*domain.WalletMetrics),
	}
}

// Compile-time interface check.
var _ storage.WalletMetricsStore = (*WalletMetricsStore)(nil)

// Upsert writes the recomputed metrics for a wallet.
func (s *WalletMetricsStore) Upsert(_ context.Context, m *domain.WalletMetrics) error {
	if m == nil || m.Wallet == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	cp.UpdatedAt = time.Now().UTC()
	s.data[m.Wallet] = &cp
	return nil
}

// Get retrieves metrics for a wallet. Returns ErrNotFound if not exists.
func (s *WalletMetricsStore) Get(_ context.Context, wallet string) (*domain.WalletMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[wallet]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// ListByExpectancy returns wallets with at least minClosed closed positions,
// best expectancy first.
func (s *WalletMetricsStore) ListByExpectancy(_ context.Context, minClosed, limit int) ([]*domain.WalletMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.WalletMetrics
	for _, m := range s.data {
		if m.ClosedCount >= minClosed {
			cp := *m
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Expectancy != out[j].Expectancy {
			return out[i].Expectancy > out[j].Expectancy
		}
		return out[i].Wallet < out[j].Wallet
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeAll wipes all wallet metrics.
func (s *WalletMetricsStore) PurgeAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.data))
	s.data = make(map[string]*domain.WalletMetrics)
	return n, nil
}
