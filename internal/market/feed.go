package market

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the feed has no quote for a mint.
// Callers treat it as "price unknown", never as zero.
var ErrUnavailable = errors.New("market: quote unavailable")

// Quote is a point-in-time market view of a token.
type Quote struct {
	Mint      string
	PriceUsd  float64
	MarketCap float64
}

// Feed provides token prices and market caps.
type Feed interface {
	// GetQuote returns the current quote for a mint.
	// Returns ErrUnavailable when the token is not listed.
	GetQuote(ctx context.Context, mint string) (*Quote, error)

	// GetSolPrice returns the current SOL price in USD.
	GetSolPrice(ctx context.Context) (float64, error)
}
