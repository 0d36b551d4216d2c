package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// It mirrors the Postgres store's mutation semantics, including relative
// deltas, set-once exit fields, and version bumps.
type PositionStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string]*domain.Position // keyed by wallet|mint
	byID   map[int64]*domain.Position
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		nextID: 1,
		data:   make(map[string]*domain.Position),
		byID:   make(map[int64]*domain.Position),
	}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

func positionKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// Get retrieves a position by (wallet, mint). Returns ErrNotFound if not exists.
func (s *PositionStore) Get(_ context.Context, wallet, mint string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionKey(wallet, mint)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, id int64) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// UpsertEntry creates the position, or refreshes only holding state and
// balance on an existing row. Entry fields are insert-only.
func (s *PositionStore) UpsertEntry(_ context.Context, p *domain.Position) (int64, error) {
	if p == nil || p.Wallet == "" || p.Mint == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(p.Wallet, p.Mint)
	if existing, exists := s.data[key]; exists {
		existing.StillHolding = true
		existing.CurrentBalance = p.CurrentBalance
		existing.CurrentBalanceUsd = p.CurrentBalanceUsd
		existing.Version++
		return existing.ID, nil
	}

	cp := *p
	cp.ID = s.nextID
	s.nextID++
	cp.StillHolding = true
	cp.TrackingEnabled = true
	if cp.EntryTimestamp.IsZero() {
		cp.EntryTimestamp = time.Now().UTC()
	}
	if cp.TotalBoughtTokens != 0 {
		cp.AvgEntryPrice = cp.TotalBoughtUsd / cp.TotalBoughtTokens
	}
	cp.Version = 1
	cp.CreatedAt = time.Now().UTC()

	s.data[key] = &cp
	s.byID[cp.ID] = &cp
	return cp.ID, nil
}

// ApplyBuy adds a buy to the bought aggregates and re-derives avg_entry_price.
func (s *PositionStore) ApplyBuy(_ context.Context, params storage.BuyParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(params.Wallet, params.Mint)]
	if !exists {
		return storage.ErrNotFound
	}

	p.TotalBoughtTokens += params.Tokens
	p.TotalBoughtUsd += params.Usd
	if p.TotalBoughtTokens != 0 {
		p.AvgEntryPrice = p.TotalBoughtUsd / p.TotalBoughtTokens
	} else {
		p.AvgEntryPrice = 0
	}
	p.BuyCount++
	p.CurrentBalance = params.NewBalance
	p.CurrentBalanceUsd = params.NewBalanceUsd
	p.StillHolding = true
	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// ApplySell adds a sell, accrues realized pnl against the stored avg entry
// price, and on full exit closes the position with set-once exit fields.
func (s *PositionStore) ApplySell(_ context.Context, params storage.SellParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(params.Wallet, params.Mint)]
	if !exists {
		return storage.ErrNotFound
	}

	p.TotalSoldTokens += params.Tokens
	p.TotalSoldUsd += params.Usd
	p.SellCount++
	p.RealizedPnl += params.Usd - params.Tokens*p.AvgEntryPrice
	p.CurrentBalance = params.NewBalance
	p.CurrentBalanceUsd = params.NewBalanceUsd

	if params.IsFullExit {
		p.StillHolding = false
		p.CurrentBalance = 0
		p.CurrentBalanceUsd = 0
		if params.Tokens != 0 && p.AvgEntryPrice != 0 {
			p.PnlRatio = (params.Usd / params.Tokens) / p.AvgEntryPrice
		}
		if p.EntryMarketCap != 0 {
			p.FpnlRatio = params.CurrentMarketCap / p.EntryMarketCap
		}
		if p.ExitMarketCap == 0 {
			p.ExitMarketCap = params.ExitMarketCap
		}
		if p.ExitDetectedAt.IsZero() {
			p.ExitDetectedAt = time.Now().UTC()
		}
	}

	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// ReactivateForBuy reopens a closed position as a fresh buy sequence.
func (s *PositionStore) ReactivateForBuy(_ context.Context, params storage.ReactivateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(params.Wallet, params.Mint)]
	if !exists || p.StillHolding {
		return storage.ErrNotFound
	}

	p.StillHolding = true
	p.TrackingEnabled = true
	p.CurrentBalance = params.Tokens
	p.CurrentBalanceUsd = params.NewBalanceUsd
	p.TotalBoughtTokens = params.Tokens
	p.TotalBoughtUsd = params.Usd
	p.TotalSoldTokens = 0
	p.TotalSoldUsd = 0
	if params.Tokens != 0 {
		p.AvgEntryPrice = params.Usd / params.Tokens
	} else {
		p.AvgEntryPrice = 0
	}
	p.BuyCount++
	p.EntryMarketCap = params.EntryMarketCap
	p.EntryBalance = params.Tokens
	p.EntryBalanceUsd = params.NewBalanceUsd
	p.EntryTimestamp = time.Now().UTC()
	p.PnlRatio = 0
	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// UpdateHolding refreshes balance and pnl ratio for a no-delta check.
// A zero pnlRatio retains the stored value.
func (s *PositionStore) UpdateHolding(_ context.Context, wallet, mint string, balance, balanceUsd, pnlRatio float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(wallet, mint)]
	if !exists {
		return storage.ErrNotFound
	}

	p.CurrentBalance = balance
	p.CurrentBalanceUsd = balanceUsd
	if pnlRatio != 0 {
		p.PnlRatio = pnlRatio
	}
	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// MarkSoldOut closes a position from a price-based estimate.
func (s *PositionStore) MarkSoldOut(_ context.Context, wallet, mint string, pnlRatio, fpnlRatio, exitMarketCap float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(wallet, mint)]
	if !exists {
		return storage.ErrNotFound
	}

	p.StillHolding = false
	p.CurrentBalance = 0
	p.CurrentBalanceUsd = 0
	if pnlRatio != 0 {
		p.PnlRatio = pnlRatio
	}
	if fpnlRatio != 0 {
		p.FpnlRatio = fpnlRatio
	}
	if p.ExitMarketCap == 0 {
		p.ExitMarketCap = exitMarketCap
	}
	if p.ExitDetectedAt.IsZero() {
		p.ExitDetectedAt = time.Now().UTC()
	}
	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// MarkChecked stamps position_checked_at without other mutation.
func (s *PositionStore) MarkChecked(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	p.PositionCheckedAt = time.Now().UTC()
	p.Version++
	return nil
}

// ListStale returns holding, tracking-enabled positions not checked within
// staleThreshold whose wallet passes the multi-token gate, oldest first.
func (s *PositionStore) ListStale(_ context.Context, staleThreshold time.Duration, minTokenGate, limit int) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-staleThreshold)

	mintsByWallet := make(map[string]map[string]struct{})
	for _, p := range s.data {
		if mintsByWallet[p.Wallet] == nil {
			mintsByWallet[p.Wallet] = make(map[string]struct{})
		}
		mintsByWallet[p.Wallet][p.Mint] = struct{}{}
	}

	var out []*domain.Position
	for _, p := range s.data {
		if !p.StillHolding || !p.TrackingEnabled {
			continue
		}
		if !p.PositionCheckedAt.IsZero() && !p.PositionCheckedAt.Before(cutoff) {
			continue
		}
		if len(mintsByWallet[p.Wallet]) < minTokenGate {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		// Never-checked positions first, then oldest check.
		if out[i].PositionCheckedAt.IsZero() != out[j].PositionCheckedAt.IsZero() {
			return out[i].PositionCheckedAt.IsZero()
		}
		if !out[i].PositionCheckedAt.Equal(out[j].PositionCheckedAt) {
			return out[i].PositionCheckedAt.Before(out[j].PositionCheckedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListNeedingReconciliation returns closed positions whose sell was never
// priced. Empty mint means all mints.
func (s *PositionStore) ListNeedingReconciliation(_ context.Context, mint string, limit int) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Position
	for _, p := range s.data {
		if p.StillHolding {
			continue
		}
		if p.TotalSoldUsd != 0 && p.SellCount != 0 {
			continue
		}
		if mint != "" && p.Mint != mint {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExitDetectedAt.IsZero() != out[j].ExitDetectedAt.IsZero() {
			return out[i].ExitDetectedAt.IsZero()
		}
		if !out[i].ExitDetectedAt.Equal(out[j].ExitDetectedAt) {
			return out[i].ExitDetectedAt.Before(out[j].ExitDetectedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplySellReconciliation backfills sell aggregates and pnl on a closed position.
func (s *PositionStore) ApplySellReconciliation(_ context.Context, params storage.ReconcileSellParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[positionKey(params.Wallet, params.Mint)]
	if !exists || p.StillHolding {
		return storage.ErrNotFound
	}

	p.TotalSoldTokens += params.Tokens
	p.TotalSoldUsd += params.Usd
	p.SellCount++
	p.RealizedPnl += params.Usd - params.Tokens*p.AvgEntryPrice
	if params.Tokens != 0 && p.AvgEntryPrice != 0 {
		p.PnlRatio = (params.Usd / params.Tokens) / p.AvgEntryPrice
	}
	if p.ExitMarketCap == 0 {
		p.ExitMarketCap = params.ExitMarketCap
	}
	p.Version++
	return nil
}

// RefreshHoldingPnl bulk-updates ratios for holding positions of a mint.
func (s *PositionStore) RefreshHoldingPnl(_ context.Context, mint string, currentMarketCap float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.data {
		if p.Mint != mint || !p.StillHolding || !p.TrackingEnabled || p.EntryMarketCap <= 0 {
			continue
		}
		ratio := currentMarketCap / p.EntryMarketCap
		p.PnlRatio = ratio
		p.FpnlRatio = ratio
		p.Version++
		n++
	}
	return n, nil
}

// RefreshSoldFpnl bulk-updates the counterfactual ratio for sold positions.
func (s *PositionStore) RefreshSoldFpnl(_ context.Context, mint string, currentMarketCap float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.data {
		if p.Mint != mint || p.StillHolding || p.EntryMarketCap <= 0 {
			continue
		}
		p.FpnlRatio = currentMarketCap / p.EntryMarketCap
		p.Version++
		n++
	}
	return n, nil
}

// StopTracking freezes a position.
func (s *PositionStore) StopTracking(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	p.TrackingEnabled = false
	p.TrackingStoppedAt = time.Now().UTC()
	p.TrackingStoppedReason = reason
	p.Version++
	return nil
}

// ResumeTracking re-enables a stopped position.
func (s *PositionStore) ResumeTracking(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	p.TrackingEnabled = true
	p.TrackingStoppedAt = time.Time{}
	p.TrackingStoppedReason = ""
	p.Version++
	return nil
}

// ListPnlRatios returns all non-zero pnl ratios for a wallet.
func (s *PositionStore) ListPnlRatios(_ context.Context, wallet string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ratios []float64
	for _, p := range s.data {
		if p.Wallet == wallet && p.PnlRatio != 0 {
			ratios = append(ratios, p.PnlRatio)
		}
	}
	return ratios, nil
}

// ListClosedPnlRatios returns non-zero pnl ratios of closed positions only.
func (s *PositionStore) ListClosedPnlRatios(_ context.Context, wallet string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ratios []float64
	for _, p := range s.data {
		if p.Wallet == wallet && !p.StillHolding && p.PnlRatio != 0 {
			ratios = append(ratios, p.PnlRatio)
		}
	}
	return ratios, nil
}

// ListByWallet returns all positions for a wallet, newest entry first.
func (s *PositionStore) ListByWallet(_ context.Context, wallet string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Position
	for _, p := range s.data {
		if p.Wallet == wallet {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTimestamp.Equal(out[j].EntryTimestamp) {
			return out[i].EntryTimestamp.After(out[j].EntryTimestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListDistinctMints returns every mint with at least one position.
func (s *PositionStore) ListDistinctMints(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, p := range s.data {
		seen[p.Mint] = struct{}{}
	}
	mints := make([]string, 0, len(seen))
	for mint := range seen {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	return mints, nil
}

// ListActiveWallets returns wallets with at least one holding,
// tracking-enabled position.
func (s *PositionStore) ListActiveWallets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, p := range s.data {
		if p.StillHolding && p.TrackingEnabled {
			seen[p.Wallet] = struct{}{}
		}
	}
	wallets := make([]string, 0, len(seen))
	for wallet := range seen {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)
	return wallets, nil
}

// PurgeAll wipes all positions.
func (s *PositionStore) PurgeAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.data))
	s.data = make(map[string]*domain.Position)
	s.byID = make(map[int64]*domain.Position)
	return n, nil
}
