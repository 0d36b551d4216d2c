package pnl

import (
	"context"
	"errors"
	"fmt"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage"
)

// Aggregator recomputes the per-wallet scorecard from stored positions.
type Aggregator struct {
	positions storage.PositionStore
	metrics   storage.WalletMetricsStore
}

// NewAggregator creates an Aggregator.
func NewAggregator(positions storage.PositionStore, metrics storage.WalletMetricsStore) *Aggregator {
	return &Aggregator{positions: positions, metrics: metrics}
}

// Recalculate rebuilds and persists the wallet's metrics. Win/loss
// tallies come from every priced position; expectancy and the label
// come from closed positions only, through hysteresis against the
// wallet's current label.
func (a *Aggregator) Recalculate(ctx context.Context, wallet string) (*domain.WalletMetrics, error) {
	all, err := a.positions.ListPnlRatios(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list pnl ratios: %w", err)
	}
	closed, err := a.positions.ListClosedPnlRatios(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("list closed pnl ratios: %w", err)
	}

	current := domain.LabelNone
	if existing, err := a.metrics.Get(ctx, wallet); err == nil {
		current = existing.Label
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get wallet metrics: %w", err)
	}

	m := &domain.WalletMetrics{Wallet: wallet}
	m.TotalPositions = len(all)

	var total float64
	for _, r := range all {
		// Uncapped for display; capping is for scoring only.
		total += r
		if CapRatio(r) > 1.0 {
			m.WinCount++
		} else {
			m.LossCount++
		}
	}
	if len(all) > 0 {
		m.WinRate = float64(m.WinCount) / float64(len(all))
		m.AvgPnlRatio = total / float64(len(all))
	}

	e := Expectancy(closed)
	m.Expectancy = e.Expectancy
	m.ClosedCount = e.ClosedCount
	m.Label = NextLabel(current, e)

	if err := a.metrics.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert wallet metrics: %w", err)
	}
	return m, nil
}

// RecalculateAll rebuilds metrics for every given wallet, returning how
// many succeeded. Individual wallet failures skip, not abort.
func (a *Aggregator) RecalculateAll(ctx context.Context, wallets []string) (int, error) {
	done := 0
	for _, wallet := range wallets {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := a.Recalculate(ctx, wallet); err != nil {
			continue
		}
		done++
	}
	return done, nil
}
