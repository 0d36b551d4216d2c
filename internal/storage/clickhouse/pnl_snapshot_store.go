package clickhouse

import (
	"context"
	"fmt"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// PnlSnapshotStore implements storage.PnlSnapshotStore using ClickHouse.
// Snapshots are append-only; MergeTree does not enforce uniqueness and the
// refresh job never writes the same (wallet, mint, timestamp) twice.
type PnlSnapshotStore struct {
	conn *Conn
}

// NewPnlSnapshotStore creates a new PnlSnapshotStore.
func NewPnlSnapshotStore(conn *Conn) *PnlSnapshotStore {
	return &PnlSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PnlSnapshotStore = (*PnlSnapshotStore)(nil)

// InsertBulk appends snapshot points.
func (s *PnlSnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.PnlSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO pnl_snapshots (
			wallet, mint, pnl_ratio, fpnl_ratio, balance_usd, still_holding, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			snap.Wallet, snap.Mint,
			snap.PnlRatio, snap.FpnlRatio, snap.BalanceUsd,
			boolToUint8(snap.StillHolding), snap.TimestampMs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPosition retrieves points for one (wallet, mint), ordered by timestamp ASC.
func (s *PnlSnapshotStore) GetByPosition(ctx context.Context, wallet, mint string) ([]*domain.PnlSnapshot, error) {
	query := `
		SELECT wallet, mint, pnl_ratio, fpnl_ratio, balance_usd, still_holding, timestamp_ms
		FROM pnl_snapshots
		WHERE wallet = ? AND mint = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, wallet, mint)
	if err != nil {
		return nil, fmt.Errorf("query pnl snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.PnlSnapshot
	for rows.Next() {
		var snap domain.PnlSnapshot
		var stillHolding uint8

		err := rows.Scan(
			&snap.Wallet, &snap.Mint,
			&snap.PnlRatio, &snap.FpnlRatio, &snap.BalanceUsd,
			&stillHolding, &snap.TimestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pnl snapshot row: %w", err)
		}

		snap.StillHolding = stillHolding != 0
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl snapshot rows: %w", err)
	}

	return snapshots, nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
