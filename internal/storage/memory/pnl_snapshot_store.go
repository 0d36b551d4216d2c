package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// PnlSnapshotStore is an in-memory implementation of storage.PnlSnapshotStore.
type PnlSnapshotStore struct {
	mu   sync.RWMutex
	rows []*domain.PnlSnapshot
}

// NewPnlSnapshotStore creates a new in-memory snapshot store.
func NewPnlSnapshotStore() *PnlSnapshotStore {
	return &PnlSnapshotStore{}
}

// Compile-time interface check.
var _ storage.PnlSnapshotStore = (*PnlSnapshotStore)(nil)

// InsertBulk appends snapshot points.
func (s *PnlSnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.PnlSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		cp := *snap
		s.rows = append(s.rows, &cp)
	}
	return nil
}

// GetByPosition retrieves points for one (wallet, mint), ordered by timestamp ASC.
func (s *PnlSnapshotStore) GetByPosition(_ context.Context, wallet, mint string) ([]*domain.PnlSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PnlSnapshot
	for _, snap := range s.rows {
		if snap.Wallet == wallet && snap.Mint == mint {
			cp := *snap
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimestampMs < out[j].TimestampMs
	})
	return out, nil
}
