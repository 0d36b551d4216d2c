package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/88simon/Meridinate/internal/chain"
)

// Default configuration values.
const (
	DefaultEndpoint = "https://api.dexscreener.com"
	DefaultTimeout  = 15 * time.Second
	DefaultCacheTTL = 30 * time.Second
)

// HTTPFeed implements Feed against a DexScreener-compatible pairs API.
// Quotes are cached briefly so a scan batch touching many positions of
// the same mint costs one upstream request.
type HTTPFeed struct {
	endpoint string
	client   *http.Client
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   *Quote
	fetched time.Time
}

// FeedOption configures HTTPFeed.
type FeedOption func(*HTTPFeed)

// WithEndpoint sets the API base URL.
func WithEndpoint(endpoint string) FeedOption {
	return func(f *HTTPFeed) {
		f.endpoint = endpoint
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) FeedOption {
	return func(f *HTTPFeed) {
		f.client.Timeout = d
	}
}

// WithCacheTTL sets how long quotes are served from cache.
func WithCacheTTL(d time.Duration) FeedOption {
	return func(f *HTTPFeed) {
		f.cacheTTL = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) FeedOption {
	return func(f *HTTPFeed) {
		f.client = client
	}
}

// NewHTTPFeed creates a new market data feed.
func NewHTTPFeed(opts ...FeedOption) *HTTPFeed {
	f := &HTTPFeed{
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]cachedQuote),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compile-time interface check.
var _ Feed = (*HTTPFeed)(nil)

// GetQuote returns the current quote for a mint.
func (f *HTTPFeed) GetQuote(ctx context.Context, mint string) (*Quote, error) {
	f.mu.Lock()
	if cached, ok := f.cache[mint]; ok && time.Since(cached.fetched) < f.cacheTTL {
		f.mu.Unlock()
		return cached.quote, nil
	}
	f.mu.Unlock()

	quote, err := f.fetchQuote(ctx, mint)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[mint] = cachedQuote{quote: quote, fetched: time.Now()}
	f.mu.Unlock()

	return quote, nil
}

// GetSolPrice returns the current SOL price in USD.
func (f *HTTPFeed) GetSolPrice(ctx context.Context) (float64, error) {
	quote, err := f.GetQuote(ctx, chain.WsolMint)
	if err != nil {
		return 0, err
	}
	return quote.PriceUsd, nil
}

func (f *HTTPFeed) fetchQuote(ctx context.Context, mint string) (*Quote, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", f.endpoint, mint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tokensResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	// Pick the most liquid pair quoting this mint as the base token.
	var best *pairInfo
	for i := range parsed.Pairs {
		p := &parsed.Pairs[i]
		if p.BaseToken.Address != mint {
			continue
		}
		if best == nil || p.Liquidity.Usd > best.Liquidity.Usd {
			best = p
		}
	}
	if best == nil {
		return nil, ErrUnavailable
	}

	price, err := strconv.ParseFloat(best.PriceUsd, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", best.PriceUsd, err)
	}

	return &Quote{
		Mint:      mint,
		PriceUsd:  price,
		MarketCap: best.Fdv,
	}, nil
}

// tokensResponse mirrors the DexScreener token pairs payload.
type tokensResponse struct {
	Pairs []pairInfo `json:"pairs"`
}

type pairInfo struct {
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	PriceUsd  string  `json:"priceUsd"`
	Fdv       float64 `json:"fdv"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
}
