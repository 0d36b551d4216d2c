package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage"
)

// Processor applies inbound transfer notifications to tracked positions.
// It is stateless between events and safe to run concurrently with a
// scan, including against the same position: every mutation goes through
// the store's relative-delta statements.
//
// Events are deduplicated by (signature, direction) through the
// signature ledger before any mutation; a replayed event is absorbed as
// Ignored. Events for unknown positions, for manually stopped positions
// and for mints with no market quote are also Ignored, never errors.
type Processor struct {
	positions  storage.PositionStore
	signatures storage.SignatureStore
	feed       market.Feed
	aggregator *pnl.Aggregator
	logger     *log.Logger
}

// NewProcessor creates a webhook transfer processor.
func NewProcessor(positions storage.PositionStore, signatures storage.SignatureStore, feed market.Feed, aggregator *pnl.Aggregator, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.Default()
	}
	return &Processor{
		positions:  positions,
		signatures: signatures,
		feed:       feed,
		aggregator: aggregator,
		logger:     logger,
	}
}

// HandleTransfer processes one transfer event and reports whether it
// mutated a position.
func (p *Processor) HandleTransfer(ctx context.Context, ev domain.TransferEvent) (domain.TransferOutcome, error) {
	if ev.Signature == "" || ev.Amount <= 0 {
		return domain.TransferIgnored, nil
	}

	pos, err := p.positions.Get(ctx, ev.Wallet, ev.Mint)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Printf("[webhook] no tracked position for %s/%s, ignoring %s", ev.Wallet, ev.Mint, ev.Signature)
		return domain.TransferIgnored, nil
	}
	if err != nil {
		return domain.TransferIgnored, fmt.Errorf("load position: %w", err)
	}

	// A manually stopped position that still holds is frozen: only an
	// administrative resume may touch it. A closed position stays eligible
	// for the re-entry buy path below.
	if !pos.TrackingEnabled && pos.StillHolding {
		p.logger.Printf("[webhook] tracking disabled for %s/%s, ignoring %s", ev.Wallet, ev.Mint, ev.Signature)
		return domain.TransferIgnored, nil
	}

	quote, err := p.feed.GetQuote(ctx, ev.Mint)
	if err != nil {
		if errors.Is(err, market.ErrUnavailable) {
			p.logger.Printf("[webhook] no quote for %s, ignoring %s", ev.Mint, ev.Signature)
			return domain.TransferIgnored, nil
		}
		return domain.TransferIgnored, fmt.Errorf("quote %s: %w", ev.Mint, err)
	}

	// The dedup gate sits after the cheap rejections so a transiently
	// unpriced event can be redelivered, but before any mutation.
	err = p.signatures.MarkProcessed(ctx, ev.Signature, ev.Direction)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return domain.TransferIgnored, nil
	}
	if err != nil {
		return domain.TransferIgnored, fmt.Errorf("mark signature processed: %w", err)
	}

	var outcome domain.TransferOutcome
	switch ev.Direction {
	case domain.DirectionBuy:
		outcome, err = p.applyBuy(ctx, pos, ev, quote)
	case domain.DirectionSell:
		outcome, err = p.applySell(ctx, pos, ev, quote)
	default:
		return domain.TransferIgnored, nil
	}
	if err != nil {
		return domain.TransferIgnored, err
	}

	if outcome == domain.TransferApplied {
		if _, err := p.aggregator.Recalculate(ctx, ev.Wallet); err != nil {
			p.logger.Printf("[webhook] wallet %s metrics recalculation failed: %v", ev.Wallet, err)
		}
	}
	return outcome, nil
}

func (p *Processor) applyBuy(ctx context.Context, pos *domain.Position, ev domain.TransferEvent, quote *market.Quote) (domain.TransferOutcome, error) {
	usd := ev.Amount * quote.PriceUsd

	if pos.Closed() {
		// Re-entry after a full exit: a fresh buy sequence rather than
		// a mutation of the closed aggregate history.
		err := p.positions.ReactivateForBuy(ctx, storage.ReactivateParams{
			Wallet:         ev.Wallet,
			Mint:           ev.Mint,
			Tokens:         ev.Amount,
			Usd:            usd,
			NewBalanceUsd:  usd,
			EntryMarketCap: quote.MarketCap,
		})
		if err != nil {
			return domain.TransferIgnored, fmt.Errorf("reactivate position: %w", err)
		}
		return domain.TransferApplied, nil
	}

	newBalance := pos.CurrentBalance + ev.Amount
	err := p.positions.ApplyBuy(ctx, storage.BuyParams{
		Wallet:        ev.Wallet,
		Mint:          ev.Mint,
		Tokens:        ev.Amount,
		Usd:           usd,
		NewBalance:    newBalance,
		NewBalanceUsd: newBalance * quote.PriceUsd,
	})
	if err != nil {
		return domain.TransferIgnored, fmt.Errorf("apply buy: %w", err)
	}
	return domain.TransferApplied, nil
}

func (p *Processor) applySell(ctx context.Context, pos *domain.Position, ev domain.TransferEvent, quote *market.Quote) (domain.TransferOutcome, error) {
	if pos.Closed() {
		p.logger.Printf("[webhook] sell on closed position %s/%s, ignoring %s", ev.Wallet, ev.Mint, ev.Signature)
		return domain.TransferIgnored, nil
	}

	newBalance := pos.CurrentBalance - ev.Amount
	if newBalance < 0 {
		newBalance = 0
	}
	isFullExit := domain.IsFullExit(newBalance, ev.Amount, pos.CurrentBalance)

	err := p.positions.ApplySell(ctx, storage.SellParams{
		Wallet:           ev.Wallet,
		Mint:             ev.Mint,
		Tokens:           ev.Amount,
		Usd:              ev.Amount * quote.PriceUsd,
		NewBalance:       newBalance,
		NewBalanceUsd:    newBalance * quote.PriceUsd,
		IsFullExit:       isFullExit,
		ExitMarketCap:    quote.MarketCap,
		CurrentMarketCap: quote.MarketCap,
	})
	if err != nil {
		return domain.TransferIgnored, fmt.Errorf("apply sell: %w", err)
	}

	if isFullExit {
		if err := p.positions.StopTracking(ctx, pos.ID, domain.StopReasonSold); err != nil {
			p.logger.Printf("[webhook] stop tracking failed for position %d: %v", pos.ID, err)
		}
	}
	return domain.TransferApplied, nil
}
