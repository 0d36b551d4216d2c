package memory

import (
	"context"
	"sync"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// SignatureStore is an in-memory implementation of storage.SignatureStore.
type SignatureStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSignatureStore creates a new in-memory signature store.
func NewSignatureStore() *SignatureStore {
	return &SignatureStore{seen: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.SignatureStore = (*SignatureStore)(nil)

// MarkProcessed records the pair. Returns ErrDuplicateKey when already recorded.
func (s *SignatureStore) MarkProcessed(_ context.Context, signature string, direction domain.TransferDirection) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	key := signature + "|" + string(direction)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.seen[key] = struct{}{}
	return nil
}
