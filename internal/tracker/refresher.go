package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/storage"
)

// RefreshReport summarizes one market-cap refresh pass.
type RefreshReport struct {
	Mints            int
	Updated          int64
	SnapshotsWritten int
	Errors           int
	DurationMs       int64
}

// Refresher is the periodic market-cap pass: for every tracked mint it
// pulls the current quote and bulk-refreshes the derived pnl ratios,
// fpnl included for sold positions so the counterfactual keeps moving
// after the exit. Each pass also appends a snapshot point per position
// to the timeseries store.
type Refresher struct {
	positions storage.PositionStore
	feed      market.Feed
	snapshots storage.PnlSnapshotStore
	logger    *log.Logger
}

// NewRefresher creates a market-cap refresher. snapshots may be nil to
// skip timeseries capture.
func NewRefresher(positions storage.PositionStore, feed market.Feed, snapshots storage.PnlSnapshotStore, logger *log.Logger) *Refresher {
	if logger == nil {
		logger = log.Default()
	}
	return &Refresher{
		positions: positions,
		feed:      feed,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Refresh runs one pass over all tracked mints. Mints without a quote
// are skipped and retried next pass; per-mint failures are isolated.
func (r *Refresher) Refresh(ctx context.Context) (*RefreshReport, error) {
	start := time.Now()
	report := &RefreshReport{}

	mints, err := r.positions.ListDistinctMints(ctx)
	if err != nil {
		return nil, err
	}
	report.Mints = len(mints)

	for _, mint := range mints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quote, err := r.feed.GetQuote(ctx, mint)
		if err != nil {
			if !errors.Is(err, market.ErrUnavailable) {
				r.logger.Printf("[refresher] quote lookup failed for %s: %v", mint, err)
				report.Errors++
			}
			continue
		}
		if quote.MarketCap <= 0 {
			continue
		}

		holding, err := r.positions.RefreshHoldingPnl(ctx, mint, quote.MarketCap)
		if err != nil {
			r.logger.Printf("[refresher] holding refresh failed for %s: %v", mint, err)
			report.Errors++
			continue
		}
		sold, err := r.positions.RefreshSoldFpnl(ctx, mint, quote.MarketCap)
		if err != nil {
			r.logger.Printf("[refresher] sold refresh failed for %s: %v", mint, err)
			report.Errors++
			continue
		}
		report.Updated += holding + sold
	}

	if r.snapshots != nil {
		n, err := r.snapshot(ctx)
		if err != nil {
			r.logger.Printf("[refresher] snapshot capture failed: %v", err)
			report.Errors++
		}
		report.SnapshotsWritten = n
	}

	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}

// snapshot appends one timeseries point per position of every active
// wallet, using the just-refreshed ratios.
func (r *Refresher) snapshot(ctx context.Context) (int, error) {
	wallets, err := r.positions.ListActiveWallets(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	var points []*domain.PnlSnapshot
	for _, wallet := range wallets {
		positions, err := r.positions.ListByWallet(ctx, wallet)
		if err != nil {
			return 0, err
		}
		for _, pos := range positions {
			points = append(points, &domain.PnlSnapshot{
				Wallet:       pos.Wallet,
				Mint:         pos.Mint,
				PnlRatio:     pos.PnlRatio,
				FpnlRatio:    pos.FpnlRatio,
				BalanceUsd:   pos.CurrentBalanceUsd,
				StillHolding: pos.StillHolding,
				TimestampMs:  now,
			})
		}
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := r.snapshots.InsertBulk(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}
