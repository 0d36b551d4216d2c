package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
)

// DefaultSignatureWindow bounds how far back in a wallet's history the
// resolver looks for the transaction behind a balance delta.
const DefaultSignatureWindow = 10

// ErrNoTradeFound is the expected miss outcome of a resolution: no
// transaction in the window carried a matching token movement with a
// derivable USD leg. Callers fall back to a price-based estimate.
var ErrNoTradeFound = errors.New("tracker: no matching trade found")

// Resolver scans a bounded window of a wallet's recent transactions for
// the trade behind an observed balance delta. Every provider call is
// metered against the credit guard; when the budget runs out mid-window
// the resolver reports a miss so the caller takes the free estimate path.
type Resolver struct {
	provider chain.Provider
	feed     market.Feed
	guard    *credits.Guard
	window   int
	logger   *log.Logger
}

// NewResolver creates a transaction resolver. A window of zero or less
// uses DefaultSignatureWindow.
func NewResolver(provider chain.Provider, feed market.Feed, guard *credits.Guard, window int, logger *log.Logger) *Resolver {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		provider: provider,
		feed:     feed,
		guard:    guard,
		window:   window,
		logger:   logger,
	}
}

// Resolve finds the most recent transaction in which wallet moved mint in
// the given direction and the paired USDC or wrapped-SOL leg makes the USD
// value derivable. Returns ErrNoTradeFound on a clean miss; any other
// error is transient and the caller may retry next cycle.
func (r *Resolver) Resolve(ctx context.Context, wallet, mint string, direction domain.TransferDirection) (*domain.TokenTrade, error) {
	return r.ResolveWindow(ctx, wallet, mint, direction, r.window)
}

// ResolveWindow is Resolve with a per-call history window. A window of
// zero or less uses the resolver's configured window.
func (r *Resolver) ResolveWindow(ctx context.Context, wallet, mint string, direction domain.TransferDirection, window int) (*domain.TokenTrade, error) {
	if window <= 0 {
		window = r.window
	}

	ok, err := r.guard.CanSpend(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoTradeFound
	}

	sigs, err := r.provider.GetSignaturesForAddress(ctx, wallet, &chain.SignaturesOpts{Limit: window})
	if chargeErr := r.guard.Charge(ctx, chain.OpSignatureList, chain.CostSignatureList, wallet, mint); chargeErr != nil {
		return nil, chargeErr
	}
	if err != nil {
		return nil, fmt.Errorf("list signatures for %s: %w", wallet, err)
	}

	solPrice := r.solPrice(ctx)

	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := r.guard.CanSpend(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoTradeFound
		}

		tx, err := r.provider.GetTransaction(ctx, sig.Signature)
		if chargeErr := r.guard.Charge(ctx, chain.OpTxFetch, chain.CostTxFetch, wallet, mint); chargeErr != nil {
			return nil, chargeErr
		}
		if errors.Is(err, chain.ErrTxNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch transaction %s: %w", sig.Signature, err)
		}
		if tx.Failed {
			continue
		}

		trade, ok := r.matchTrade(tx, wallet, mint, direction, solPrice)
		if ok {
			return trade, nil
		}
	}
	return nil, ErrNoTradeFound
}

// matchTrade checks one transaction for a token movement in the wanted
// direction with a derivable value leg.
func (r *Resolver) matchTrade(tx *chain.TransactionDetail, wallet, mint string, direction domain.TransferDirection, solPrice float64) (*domain.TokenTrade, bool) {
	delta := tx.TokenDelta(wallet, mint)
	switch direction {
	case domain.DirectionBuy:
		if delta <= domain.BalanceEpsilon {
			return nil, false
		}
	case domain.DirectionSell:
		if delta >= -domain.BalanceEpsilon {
			return nil, false
		}
	default:
		return nil, false
	}

	value := tx.ValueLegUsd(wallet, solPrice)
	var usd float64
	if direction == domain.DirectionBuy && value < 0 {
		usd = -value
	}
	if direction == domain.DirectionSell && value > 0 {
		usd = value
	}
	if usd <= 0 {
		// Token moved but no value leg: keep scanning the window.
		return nil, false
	}

	return &domain.TokenTrade{
		Signature:    tx.Signature,
		Tokens:       math.Abs(delta),
		Usd:          usd,
		UsdDerivable: true,
	}, true
}

// solPrice fetches SOL/USD for converting wrapped-SOL value legs. An
// unavailable quote disables the SOL leg rather than failing resolution.
func (r *Resolver) solPrice(ctx context.Context) float64 {
	price, err := r.feed.GetSolPrice(ctx)
	if err != nil {
		if !errors.Is(err, market.ErrUnavailable) {
			r.logger.Printf("[resolver] sol price lookup failed: %v", err)
		}
		return 0
	}
	return price
}
