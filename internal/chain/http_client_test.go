package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_GetTokenBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "getTokenAccountsByOwner" {
			t.Errorf("expected method getTokenAccountsByOwner, got %s", req.Method)
		}

		account := func(amount float64) map[string]interface{} {
			return map[string]interface{}{
				"account": map[string]interface{}{
					"data": map[string]interface{}{
						"parsed": map[string]interface{}{
							"info": map[string]interface{}{
								"tokenAmount": map[string]interface{}{
									"uiAmount": amount,
								},
							},
						},
					},
				},
			}
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"value": []interface{}{account(750.5), account(249.5)},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	balance, err := client.GetTokenBalance(context.Background(), "wallet-1", "mint-1")
	if err != nil {
		t.Fatalf("GetTokenBalance: %v", err)
	}
	if balance != 1000.0 {
		t.Errorf("expected balance 1000, got %f", balance)
	}
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}

		balance := func(owner, mint string, amount float64) map[string]interface{} {
			return map[string]interface{}{
				"accountIndex":  1,
				"mint":          mint,
				"owner":         owner,
				"uiTokenAmount": map[string]interface{}{"uiAmount": amount},
			}
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"slot":      int64(123456),
				"blockTime": int64(1700000000),
				"meta": map[string]interface{}{
					"err": nil,
					"preTokenBalances": []interface{}{
						balance("wallet-1", "mint-1", 1000),
						balance("wallet-1", UsdcMint, 50),
					},
					"postTokenBalances": []interface{}{
						balance("wallet-1", "mint-1", 600),
						balance("wallet-1", UsdcMint, 350),
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	tx, err := client.GetTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}
	if tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %d", tx.BlockTime)
	}
	if tx.Failed {
		t.Error("expected successful transaction")
	}

	// wallet-1 sold 400 mint-1 for 300 USDC.
	if got := tx.TokenDelta("wallet-1", "mint-1"); got != -400 {
		t.Errorf("expected token delta -400, got %f", got)
	}
	if got := tx.ValueLegUsd("wallet-1", 0); got != 300 {
		t.Errorf("expected value leg 300, got %f", got)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  nil,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	_, err := client.GetTransaction(context.Background(), "nonexistent")
	if !errors.Is(err, ErrTxNotFound) {
		t.Errorf("expected ErrTxNotFound, got %v", err)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getSignaturesForAddress" {
			t.Errorf("expected method getSignaturesForAddress, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": []interface{}{
				map[string]interface{}{"signature": "sig-new", "slot": int64(200), "blockTime": int64(1700000100)},
				map[string]interface{}{"signature": "sig-old", "slot": int64(100), "blockTime": int64(1700000000)},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	sigs, err := client.GetSignaturesForAddress(context.Background(), "wallet-1", &SignaturesOpts{Limit: 10})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}

	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Signature != "sig-new" {
		t.Errorf("expected newest first, got %s", sigs[0].Signature)
	}
}

func TestHTTPClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"value": []interface{}{}},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)

	balance, err := client.GetTokenBalance(context.Background(), "wallet-1", "mint-1")
	if err != nil {
		t.Fatalf("GetTokenBalance after retries: %v", err)
	}
	if balance != 0 {
		t.Errorf("expected zero balance, got %f", balance)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestTransactionDetail_ValueLegWithSol(t *testing.T) {
	tx := &TransactionDetail{
		Signature: "sig-1",
		TokenTransfers: []TokenTransfer{
			{To: "wallet-1", Mint: "mint-1", Amount: 500},
			{From: "wallet-1", Mint: WsolMint, Amount: 2},
		},
	}

	if got := tx.TokenDelta("wallet-1", "mint-1"); got != 500 {
		t.Errorf("expected delta 500, got %f", got)
	}
	// 2 SOL spent at $150 each.
	if got := tx.ValueLegUsd("wallet-1", 150); got != -300 {
		t.Errorf("expected value leg -300, got %f", got)
	}
	// Without a SOL price the SOL leg cannot be derived.
	if got := tx.ValueLegUsd("wallet-1", 0); got != 0 {
		t.Errorf("expected value leg 0, got %f", got)
	}
}
