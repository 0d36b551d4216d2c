package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func pairsPayload(mint, priceUsd string, fdv, liquidity float64) map[string]interface{} {
	return map[string]interface{}{
		"pairs": []interface{}{
			map[string]interface{}{
				"baseToken": map[string]interface{}{"address": "other-mint"},
				"priceUsd":  "99.0",
				"fdv":       1.0,
				"liquidity": map[string]interface{}{"usd": 999999.0},
			},
			map[string]interface{}{
				"baseToken": map[string]interface{}{"address": mint},
				"priceUsd":  priceUsd,
				"fdv":       fdv,
				"liquidity": map[string]interface{}{"usd": liquidity},
			},
		},
	}
}

func TestHTTPFeed_GetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pairsPayload("mint-1", "0.0025", 250000, 12000))
	}))
	defer server.Close()

	feed := NewHTTPFeed(WithEndpoint(server.URL))

	quote, err := feed.GetQuote(context.Background(), "mint-1")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.PriceUsd != 0.0025 {
		t.Errorf("expected price 0.0025, got %f", quote.PriceUsd)
	}
	if quote.MarketCap != 250000 {
		t.Errorf("expected market cap 250000, got %f", quote.MarketCap)
	}
}

func TestHTTPFeed_GetQuote_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"pairs": []interface{}{}})
	}))
	defer server.Close()

	feed := NewHTTPFeed(WithEndpoint(server.URL))

	_, err := feed.GetQuote(context.Background(), "unlisted-mint")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPFeed_CachesQuotes(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pairsPayload("mint-1", "1.5", 100000, 5000))
	}))
	defer server.Close()

	feed := NewHTTPFeed(WithEndpoint(server.URL))

	for i := 0; i < 3; i++ {
		if _, err := feed.GetQuote(context.Background(), "mint-1"); err != nil {
			t.Fatalf("GetQuote: %v", err)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}
