package stub

import (
	"context"
	"sync"

	"github.com/88simon/Meridinate/internal/chain"
	"github.com/88simon/Meridinate/internal/market"
)

// Feed implements market.Feed for testing.
type Feed struct {
	mu     sync.Mutex
	quotes map[string]*market.Quote
}

// NewFeed creates a new stub feed.
func NewFeed() *Feed {
	return &Feed{quotes: make(map[string]*market.Quote)}
}

// Compile-time interface check.
var _ market.Feed = (*Feed)(nil)

// SetQuote seeds the quote for a mint.
func (f *Feed) SetQuote(mint string, priceUsd, marketCap float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[mint] = &market.Quote{Mint: mint, PriceUsd: priceUsd, MarketCap: marketCap}
}

// ClearQuote removes the quote for a mint, making it unavailable.
func (f *Feed) ClearQuote(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quotes, mint)
}

// GetQuote returns the seeded quote or market.ErrUnavailable.
func (f *Feed) GetQuote(_ context.Context, mint string) (*market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.quotes[mint]
	if !ok {
		return nil, market.ErrUnavailable
	}
	cp := *q
	return &cp, nil
}

// GetSolPrice returns the seeded SOL quote price.
func (f *Feed) GetSolPrice(ctx context.Context) (float64, error) {
	q, err := f.GetQuote(ctx, chain.WsolMint)
	if err != nil {
		return 0, err
	}
	return q.PriceUsd, nil
}
