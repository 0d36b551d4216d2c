package postgres

import (
	"context"
	"fmt"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// SignatureStore implements storage.SignatureStore using PostgreSQL.
// The primary key on (signature, direction) is the idempotency guarantee.
type SignatureStore struct {
	pool *Pool
}

// NewSignatureStore creates a new SignatureStore.
func NewSignatureStore(pool *Pool) *SignatureStore {
	return &SignatureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignatureStore = (*SignatureStore)(nil)

// MarkProcessed records the pair. Returns ErrDuplicateKey when it was
// already recorded.
func (s *SignatureStore) MarkProcessed(ctx context.Context, signature string, direction domain.TransferDirection) error {
	if signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO processed_signatures (signature, direction)
		VALUES ($1, $2)
	`

	_, err := s.pool.Exec(ctx, query, signature, string(direction))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("mark signature processed: %w", err)
	}
	return nil
}
