package tracker

import (
	"context"
	"errors"
	"log"

	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/storage"
)

// ReconcileConfig is one reconcile batch's parameters.
type ReconcileConfig struct {
	// Mint restricts the batch to one token; empty means all.
	Mint string
	// MaxPositions caps how many unpriced exits one batch touches.
	MaxPositions int
	// MaxSignatures overrides the resolver's history window for this
	// batch; <= 0 keeps the resolver's configured window.
	MaxSignatures int
	// MaxCreditBudget caps this batch's credit spend on top of the
	// daily budget; <= 0 leaves the batch bounded by the daily budget.
	MaxCreditBudget int
}

// Reconciler backfills sell data on positions that closed without an
// authoritative price: a sold-out position whose sell transaction was
// never resolved has zero sold aggregates. Each batch re-runs the
// transaction resolver for those positions; on a miss it falls back to
// an entry-balance price estimate, marked as such in the result.
type Reconciler struct {
	positions storage.PositionStore
	resolver  *Resolver
	feed      market.Feed
	guard     *credits.Guard
	logger    *log.Logger
}

// NewReconciler creates a sell reconciler.
func NewReconciler(positions storage.PositionStore, resolver *Resolver, feed market.Feed, guard *credits.Guard, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		positions: positions,
		resolver:  resolver,
		feed:      feed,
		guard:     guard,
		logger:    logger,
	}
}

// Reconcile runs one batch and returns the per-position results.
func (r *Reconciler) Reconcile(ctx context.Context, cfg ReconcileConfig) (*domain.ReconciliationReport, error) {
	run := r.guard.BeginRun(cfg.MaxCreditBudget)
	report := &domain.ReconciliationReport{}

	candidates, err := r.positions.ListNeedingReconciliation(ctx, cfg.Mint, cfg.MaxPositions)
	if err != nil {
		return nil, err
	}
	report.Found = len(candidates)

	quotes := newQuoteCache(r.feed)

	for _, pos := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := run.CanSpend(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Printf("[reconciler] credit budget exhausted, %d positions deferred", report.Found-len(report.Results))
			break
		}

		result := r.reconcilePosition(ctx, pos, quotes, cfg.MaxSignatures)
		switch result.Status {
		case domain.ReconcileSuccess:
			report.Reconciled++
		case domain.ReconcileNoTxFound:
			report.NoTxFound++
		case domain.ReconcileError:
			report.Errors++
		}
		report.Results = append(report.Results, result)
	}

	report.CreditsUsed = run.Used()
	return report, nil
}

func (r *Reconciler) reconcilePosition(ctx context.Context, pos *domain.Position, quotes *quoteCache, window int) domain.ReconciliationResult {
	result := domain.ReconciliationResult{
		PositionID:  pos.ID,
		Wallet:      pos.Wallet,
		Mint:        pos.Mint,
		OldPnlRatio: pos.PnlRatio,
	}
	quote := quotes.get(ctx, pos.Mint, r.logger)

	trade, err := r.resolver.ResolveWindow(ctx, pos.Wallet, pos.Mint, domain.DirectionSell, window)
	switch {
	case err == nil:
		tokens, usd := trade.Tokens, trade.Usd
		// A resolved trade far smaller than the entry balance is a partial
		// fill of a multi-transaction exit; scale it to the full balance so
		// the backfilled proceeds cover the whole position.
		if pos.EntryBalance > 0 && tokens < 0.5*pos.EntryBalance {
			usd = usd * pos.EntryBalance / tokens
			tokens = pos.EntryBalance
			result.Estimated = true
		}
		result.Status = domain.ReconcileSuccess
		result.NewPnlRatio = r.apply(ctx, pos, tokens, usd, marketCapOf(quote), &result)

	case errors.Is(err, ErrNoTradeFound):
		// Estimate proceeds from the entry balance at the live price.
		// The position keeps turning up in future batches only if the
		// estimate also fails, so an unpriced token parks here.
		if quote == nil || quote.PriceUsd <= 0 || pos.EntryBalance <= 0 {
			result.Status = domain.ReconcileNoTxFound
			return result
		}
		result.Status = domain.ReconcileSuccess
		result.Estimated = true
		result.NewPnlRatio = r.apply(ctx, pos, pos.EntryBalance, pos.EntryBalance*quote.PriceUsd, marketCapOf(quote), &result)

	default:
		r.logger.Printf("[reconciler] sell resolution failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		result.Status = domain.ReconcileError
		result.Err = err.Error()
	}
	return result
}

// apply writes the backfilled sell and returns the recomputed pnl ratio.
// A failed write downgrades the result to an error in place.
func (r *Reconciler) apply(ctx context.Context, pos *domain.Position, tokens, usd, exitMarketCap float64, result *domain.ReconciliationResult) float64 {
	err := r.positions.ApplySellReconciliation(ctx, storage.ReconcileSellParams{
		Wallet:        pos.Wallet,
		Mint:          pos.Mint,
		Tokens:        tokens,
		Usd:           usd,
		ExitMarketCap: exitMarketCap,
	})
	if err != nil {
		r.logger.Printf("[reconciler] backfill failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		result.Status = domain.ReconcileError
		result.Err = err.Error()
		return 0
	}

	updated, err := r.positions.Get(ctx, pos.Wallet, pos.Mint)
	if err != nil {
		return 0
	}
	return updated.PnlRatio
}
