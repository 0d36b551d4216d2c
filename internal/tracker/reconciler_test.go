package tracker

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/88simon/Meridinate/internal/chain"
	chainstub "github.com/88simon/Meridinate/internal/chain/stub"
	"github.com/88simon/Meridinate/internal/credits"
	"github.com/88simon/Meridinate/internal/domain"
	marketstub "github.com/88simon/Meridinate/internal/market/stub"
	"github.com/88simon/Meridinate/internal/storage/memory"
)

type reconcileFixture struct {
	positions  *memory.PositionStore
	provider   *chainstub.Provider
	feed       *marketstub.Feed
	reconciler *Reconciler
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()

	positions := memory.NewPositionStore()
	provider := chainstub.NewProvider()
	feed := marketstub.NewFeed()
	guard := credits.NewGuard(memory.NewCreditLedgerStore(), 1000)
	require.NoError(t, guard.Sync(context.Background()))

	logger := log.New(testWriter{t}, "", 0)
	resolver := NewResolver(provider, feed, guard, DefaultSignatureWindow, logger)

	return &reconcileFixture{
		positions:  positions,
		provider:   provider,
		feed:       feed,
		reconciler: NewReconciler(positions, resolver, feed, guard, logger),
	}
}

// seedUnpriced creates a closed position whose sell was never priced.
func seedUnpriced(t *testing.T, f *reconcileFixture, wallet, mint string) {
	t.Helper()
	ctx := context.Background()

	_, err := f.positions.UpsertEntry(ctx, &domain.Position{
		Wallet:            wallet,
		Mint:              mint,
		CurrentBalance:    0,
		EntryMarketCap:    10000,
		EntryBalance:      1000,
		EntryBalanceUsd:   100,
		TotalBoughtTokens: 1000,
		TotalBoughtUsd:    100,
		BuyCount:          1,
	})
	require.NoError(t, err)
	require.NoError(t, f.positions.MarkSoldOut(ctx, wallet, mint, 0, 0, 0))
}

func TestReconcile_ResolvedSell(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")

	f.feed.SetQuote("mint-1", 0.18, 18000)
	f.provider.AddSignatures("wallet-1", chain.SignatureInfo{Signature: "sig-sell"})
	f.provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-sell",
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 1000},
			{From: "pool", To: "wallet-1", Mint: chain.UsdcMint, Amount: 180},
		},
	})

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, 0, report.NoTxFound)

	require.Len(t, report.Results, 1)
	result := report.Results[0]
	assert.Equal(t, domain.ReconcileSuccess, result.Status)
	assert.False(t, result.Estimated)
	assert.InDelta(t, 1.8, result.NewPnlRatio, 1e-9)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.InDelta(t, 180, pos.TotalSoldUsd, 1e-9)
	assert.Equal(t, 1, pos.SellCount)
	assert.InDelta(t, 80, pos.RealizedPnl, 1e-9)
	assert.Equal(t, 1, pos.BuyCount)
}

func TestReconcile_PartialFillScaledToEntryBalance(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")

	// Only the last leg of a multi-transaction exit is still in the
	// signature window: 200 of 1000 tokens for 36 USDC.
	f.feed.SetQuote("mint-1", 0.18, 18000)
	f.provider.AddSignatures("wallet-1", chain.SignatureInfo{Signature: "sig-sell"})
	f.provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-sell",
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 200},
			{From: "pool", To: "wallet-1", Mint: chain.UsdcMint, Amount: 36},
		},
	})

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)

	require.Len(t, report.Results, 1)
	result := report.Results[0]
	assert.Equal(t, domain.ReconcileSuccess, result.Status)
	assert.True(t, result.Estimated)
	assert.InDelta(t, 1.8, result.NewPnlRatio, 1e-9)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.InDelta(t, 1000, pos.TotalSoldTokens, 1e-9)
	assert.InDelta(t, 180, pos.TotalSoldUsd, 1e-9)
}

func TestReconcile_EstimateFallback(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")

	// No transaction history; the live price stands in.
	f.feed.SetQuote("mint-1", 0.15, 15000)

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)

	require.Len(t, report.Results, 1)
	result := report.Results[0]
	assert.Equal(t, domain.ReconcileSuccess, result.Status)
	assert.True(t, result.Estimated)
	assert.InDelta(t, 1.5, result.NewPnlRatio, 1e-9)

	// A priced position drops out of the next batch.
	report, err = f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found)
}

func TestReconcile_NoTxAndNoPrice(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NoTxFound)
	assert.Equal(t, 0, report.Reconciled)

	// Unpriced position stays in the pool for the next run.
	report, err = f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
}

func TestReconcile_MintScope(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")
	seedUnpriced(t, f, "wallet-1", "mint-2")

	f.feed.SetQuote("mint-2", 0.15, 15000)

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{Mint: "mint-2", MaxPositions: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, "mint-2", report.Results[0].Mint)
}

func TestReconcile_MaxSignaturesBoundsWindow(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")

	// The matching sell sits behind an unrelated transfer in history.
	f.provider.AddSignatures("wallet-1",
		chain.SignatureInfo{Signature: "sig-noise"},
		chain.SignatureInfo{Signature: "sig-sell"},
	)
	f.provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-noise",
		TokenTransfers: []chain.TokenTransfer{
			{From: "someone", To: "wallet-1", Mint: "mint-other", Amount: 5},
		},
	})
	f.provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-sell",
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 1000},
			{From: "pool", To: "wallet-1", Mint: chain.UsdcMint, Amount: 180},
		},
	})

	// A one-deep window sees only the noise and misses.
	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10, MaxSignatures: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NoTxFound)

	// The full window reaches the sell.
	report, err = f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	require.Equal(t, 1, report.Reconciled)
	assert.False(t, report.Results[0].Estimated)
	assert.InDelta(t, 1.8, report.Results[0].NewPnlRatio, 1e-9)
}

func TestReconcile_CreditsMetered(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	seedUnpriced(t, f, "wallet-1", "mint-1")
	f.feed.SetQuote("mint-1", 0.15, 15000)

	report, err := f.reconciler.Reconcile(ctx, ReconcileConfig{MaxPositions: 10})
	require.NoError(t, err)
	// One signature listing; nothing to fetch behind it.
	assert.Equal(t, 1, report.CreditsUsed)
}
