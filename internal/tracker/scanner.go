package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/market"
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage"
)

// ScanConfig is one scan invocation's parameters.
type ScanConfig struct {
	// MaxPositions caps how many stale positions one run processes.
	MaxPositions int
	// StaleThreshold is how long a position may go unchecked before it
	// becomes a scan candidate.
	StaleThreshold time.Duration
	// MinTokenGate is the minimum distinct tracked mints a wallet needs
	// for its positions to be scanned.
	MinTokenGate int
	// MaxCreditBudget caps this run's credit spend on top of the daily
	// budget; <= 0 leaves the run bounded by the daily budget alone.
	MaxCreditBudget int
}

// Scanner is the periodic balance-diff polling loop. Each run pulls the
// stalest qualifying positions, fetches current balances, classifies the
// delta as buy, sell, or no change, and applies the matching position
// mutation. Provider failures are isolated per position; running out of
// credit budget ends the batch cleanly.
type Scanner struct {
	positions  storage.PositionStore
	provider   chain.Provider
	feed       market.Feed
	guard      *credits.Guard
	resolver   *Resolver
	aggregator *pnl.Aggregator
	logger     *log.Logger
}

// NewScanner creates a balance-diff scanner.
func NewScanner(positions storage.PositionStore, provider chain.Provider, feed market.Feed, guard *credits.Guard, resolver *Resolver, aggregator *pnl.Aggregator, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		positions:  positions,
		provider:   provider,
		feed:       feed,
		guard:      guard,
		resolver:   resolver,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Scan runs one polling pass and returns its report. Only the candidate
// listing can fail the run; everything past it is isolated per position.
func (s *Scanner) Scan(ctx context.Context, cfg ScanConfig) (*domain.ScanReport, error) {
	start := time.Now()
	run := s.guard.BeginRun(cfg.MaxCreditBudget)
	report := &domain.ScanReport{}

	candidates, err := s.positions.ListStale(ctx, cfg.StaleThreshold, cfg.MinTokenGate, cfg.MaxPositions)
	if err != nil {
		return nil, err
	}

	quotes := newQuoteCache(s.feed)
	touched := make(map[string]struct{})

	for i, pos := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := run.CanSpend(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			report.BudgetExhausted = len(candidates) - i
			s.logger.Printf("[scanner] credit budget exhausted, %d positions deferred", report.BudgetExhausted)
			break
		}

		if s.scanPosition(ctx, pos, quotes, report) {
			touched[pos.Wallet] = struct{}{}
		}
		report.Checked++
	}

	for wallet := range touched {
		if _, err := s.aggregator.Recalculate(ctx, wallet); err != nil {
			s.logger.Printf("[scanner] wallet %s metrics recalculation failed: %v", wallet, err)
			continue
		}
		report.WalletsRecalculated++
	}

	report.CreditsUsed = run.Used()
	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}

// scanPosition processes one candidate and reports whether it mutated
// trade aggregates (and so needs a wallet metrics recalculation).
func (s *Scanner) scanPosition(ctx context.Context, pos *domain.Position, quotes *quoteCache, report *domain.ScanReport) bool {
	balance, err := s.provider.GetTokenBalance(ctx, pos.Wallet, pos.Mint)
	if chargeErr := s.guard.Charge(ctx, chain.OpBalanceLookup, chain.CostBalanceLookup, pos.Wallet, pos.Mint); chargeErr != nil {
		s.logger.Printf("[scanner] credit charge failed: %v", chargeErr)
	}
	if err != nil {
		// Position stays stale and is retried next cycle.
		s.logger.Printf("[scanner] balance lookup failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}

	quote := quotes.get(ctx, pos.Mint, s.logger)
	delta := balance - pos.CurrentBalance

	var traded bool
	switch {
	case delta > domain.BalanceEpsilon:
		traded = s.applyBuy(ctx, pos, balance, delta, quote, report)
	case delta < -domain.BalanceEpsilon:
		traded = s.applySell(ctx, pos, balance, -delta, quote, report)
	case balance < domain.BalanceEpsilon:
		// Balance is zero with no observed delta: the sell happened
		// before this position entered the polling window.
		traded = s.applyVanished(ctx, pos, quote, report)
	default:
		s.refreshHolding(ctx, pos, balance, quote, report)
	}

	if err := s.positions.MarkChecked(ctx, pos.ID); err != nil {
		s.logger.Printf("[scanner] liveness stamp failed for position %d: %v", pos.ID, err)
	}
	return traded
}

func (s *Scanner) applyBuy(ctx context.Context, pos *domain.Position, balance, delta float64, quote *market.Quote, report *domain.ScanReport) bool {
	tokens := delta
	var usd float64

	trade, err := s.resolver.Resolve(ctx, pos.Wallet, pos.Mint, domain.DirectionBuy)
	switch {
	case err == nil:
		tokens = trade.Tokens
		usd = trade.Usd
	case errors.Is(err, ErrNoTradeFound):
		// Estimate from the live price. Flagged by usd staying zero
		// when no price exists; reconciliation may firm it up later.
		if quote != nil {
			usd = delta * quote.PriceUsd
		}
	default:
		s.logger.Printf("[scanner] buy resolution failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}

	err = s.positions.ApplyBuy(ctx, storage.BuyParams{
		Wallet:        pos.Wallet,
		Mint:          pos.Mint,
		Tokens:        tokens,
		Usd:           usd,
		NewBalance:    balance,
		NewBalanceUsd: balanceUsd(balance, quote),
	})
	if err != nil {
		s.logger.Printf("[scanner] apply buy failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}
	report.BuysDetected++
	report.Holding++
	return true
}

func (s *Scanner) applySell(ctx context.Context, pos *domain.Position, balance, soldTokens float64, quote *market.Quote, report *domain.ScanReport) bool {
	tokens := soldTokens
	var usd float64

	trade, err := s.resolver.Resolve(ctx, pos.Wallet, pos.Mint, domain.DirectionSell)
	switch {
	case err == nil:
		tokens = trade.Tokens
		usd = trade.Usd
	case errors.Is(err, ErrNoTradeFound):
		if quote != nil {
			usd = soldTokens * quote.PriceUsd
		}
	default:
		s.logger.Printf("[scanner] sell resolution failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}

	isFullExit := domain.IsFullExit(balance, soldTokens, pos.CurrentBalance)
	var marketCap float64
	if quote != nil {
		marketCap = quote.MarketCap
	}

	err = s.positions.ApplySell(ctx, storage.SellParams{
		Wallet:           pos.Wallet,
		Mint:             pos.Mint,
		Tokens:           tokens,
		Usd:              usd,
		NewBalance:       balance,
		NewBalanceUsd:    balanceUsd(balance, quote),
		IsFullExit:       isFullExit,
		ExitMarketCap:    marketCap,
		CurrentMarketCap: marketCap,
	})
	if err != nil {
		s.logger.Printf("[scanner] apply sell failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}

	report.SellsDetected++
	if isFullExit {
		report.Sold++
		if err := s.positions.StopTracking(ctx, pos.ID, domain.StopReasonSold); err != nil {
			s.logger.Printf("[scanner] stop tracking failed for position %d: %v", pos.ID, err)
		}
	} else {
		report.Holding++
	}
	return true
}

// applyVanished handles a position whose balance reads zero without an
// observed delta. A sell lookup runs regardless; on a miss the position
// is closed from a price estimate and left for the reconciler to price
// authoritatively.
func (s *Scanner) applyVanished(ctx context.Context, pos *domain.Position, quote *market.Quote, report *domain.ScanReport) bool {
	trade, err := s.resolver.Resolve(ctx, pos.Wallet, pos.Mint, domain.DirectionSell)
	if err == nil {
		err = s.positions.ApplySell(ctx, storage.SellParams{
			Wallet:           pos.Wallet,
			Mint:             pos.Mint,
			Tokens:           trade.Tokens,
			Usd:              trade.Usd,
			NewBalance:       0,
			NewBalanceUsd:    0,
			IsFullExit:       true,
			ExitMarketCap:    marketCapOf(quote),
			CurrentMarketCap: marketCapOf(quote),
		})
		if err != nil {
			s.logger.Printf("[scanner] apply sell failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
			report.Errors++
			return false
		}
		report.SellsDetected++
		report.Sold++
		if err := s.positions.StopTracking(ctx, pos.ID, domain.StopReasonSold); err != nil {
			s.logger.Printf("[scanner] stop tracking failed for position %d: %v", pos.ID, err)
		}
		return true
	}
	if !errors.Is(err, ErrNoTradeFound) {
		s.logger.Printf("[scanner] sell resolution failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}

	var pnlRatio, fpnlRatio float64
	if quote != nil && pos.AvgEntryPrice > 0 {
		pnlRatio = quote.PriceUsd / pos.AvgEntryPrice
	}
	if quote != nil && pos.EntryMarketCap > 0 {
		fpnlRatio = quote.MarketCap / pos.EntryMarketCap
	}

	err = s.positions.MarkSoldOut(ctx, pos.Wallet, pos.Mint, pnlRatio, fpnlRatio, marketCapOf(quote))
	if err != nil {
		s.logger.Printf("[scanner] mark sold out failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return false
	}
	report.Sold++
	if err := s.positions.StopTracking(ctx, pos.ID, domain.StopReasonSold); err != nil {
		s.logger.Printf("[scanner] stop tracking failed for position %d: %v", pos.ID, err)
	}
	return true
}

// refreshHolding updates balance and the market-cap pnl ratio for a
// position whose balance did not move. No credit beyond the balance
// lookup is spent here.
func (s *Scanner) refreshHolding(ctx context.Context, pos *domain.Position, balance float64, quote *market.Quote, report *domain.ScanReport) {
	var ratio float64
	if quote != nil && pos.EntryMarketCap > 0 {
		ratio = quote.MarketCap / pos.EntryMarketCap
	}

	err := s.positions.UpdateHolding(ctx, pos.Wallet, pos.Mint, balance, balanceUsd(balance, quote), ratio)
	if err != nil {
		s.logger.Printf("[scanner] holding refresh failed for %s/%s: %v", pos.Wallet, pos.Mint, err)
		report.Errors++
		return
	}
	report.Holding++
}

func balanceUsd(balance float64, quote *market.Quote) float64 {
	if quote == nil {
		return 0
	}
	return balance * quote.PriceUsd
}

func marketCapOf(quote *market.Quote) float64 {
	if quote == nil {
		return 0
	}
	return quote.MarketCap
}

// quoteCache memoizes market quotes for the duration of one run so a
// batch of positions on the same mint costs one feed call.
type quoteCache struct {
	feed   market.Feed
	quotes map[string]*market.Quote
}

func newQuoteCache(feed market.Feed) *quoteCache {
	return &quoteCache{feed: feed, quotes: make(map[string]*market.Quote)}
}

// get returns the cached quote for mint, or nil when the feed has none.
func (c *quoteCache) get(ctx context.Context, mint string, logger *log.Logger) *market.Quote {
	if quote, ok := c.quotes[mint]; ok {
		return quote
	}
	quote, err := c.feed.GetQuote(ctx, mint)
	if err != nil {
		if !errors.Is(err, market.ErrUnavailable) {
			logger.Printf("[scanner] quote lookup failed for %s: %v", mint, err)
		}
		quote = nil
	}
	c.quotes[mint] = quote
	return quote
}
