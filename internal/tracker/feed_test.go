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
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage/memory"
)

func TestTransferEvents_FoldsPerWalletMint(t *testing.T) {
	tracked := map[string]struct{}{"wallet-1": {}, "wallet-2": {}}

	tx := &chain.TransactionDetail{
		Signature: "sig-1",
		BlockTime: 1700000000,
		TokenTransfers: []chain.TokenTransfer{
			// wallet-1 sells mint-1 in two hops to wallet-2.
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 600},
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 400},
			{From: "pool", To: "wallet-2", Mint: "mint-1", Amount: 1000},
			// Value leg and an untracked wallet are not events.
			{From: "pool", To: "wallet-1", Mint: chain.UsdcMint, Amount: 180},
			{From: "pool", To: "stranger", Mint: "mint-1", Amount: 5},
		},
	}

	events := transferEvents(tx, tracked)
	require.Len(t, events, 2)

	assert.Equal(t, "wallet-1", events[0].Wallet)
	assert.Equal(t, domain.DirectionSell, events[0].Direction)
	assert.InDelta(t, 1000, events[0].Amount, 1e-9)
	assert.Equal(t, "sig-1", events[0].Signature)
	assert.Equal(t, int64(1700000000000), events[0].TimestampMs)

	assert.Equal(t, "wallet-2", events[1].Wallet)
	assert.Equal(t, domain.DirectionBuy, events[1].Direction)
	assert.InDelta(t, 1000, events[1].Amount, 1e-9)
}

func TestTransferEvents_NetZeroDropped(t *testing.T) {
	tracked := map[string]struct{}{"wallet-1": {}}

	tx := &chain.TransactionDetail{
		Signature: "sig-1",
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 100},
			{From: "pool", To: "wallet-1", Mint: "mint-1", Amount: 100},
		},
	}

	assert.Empty(t, transferEvents(tx, tracked))
}

func TestHandleNotification_AppliesTrackedSell(t *testing.T) {
	positions := memory.NewPositionStore()
	provider := chainstub.NewProvider()
	feed := marketstub.NewFeed()
	guard := credits.NewGuard(memory.NewCreditLedgerStore(), 1000)
	require.NoError(t, guard.Sync(context.Background()))

	logger := log.New(testWriter{t}, "", 0)
	aggregator := pnl.NewAggregator(positions, memory.NewWalletMetricsStore())
	processor := NewProcessor(positions, memory.NewSignatureStore(), feed, aggregator, logger)
	transferFeed := NewTransferFeed(nil, provider, positions, processor, guard, logger)

	ctx := context.Background()
	_, err := positions.UpsertEntry(ctx, &domain.Position{
		Wallet:            "wallet-1",
		Mint:              "mint-1",
		CurrentBalance:    1000,
		EntryMarketCap:    10000,
		TotalBoughtTokens: 1000,
		TotalBoughtUsd:    100,
	})
	require.NoError(t, err)
	feed.SetQuote("mint-1", 0.2, 20000)

	provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-sell",
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 400},
			{From: "pool", To: "wallet-1", Mint: chain.UsdcMint, Amount: 80},
		},
	})

	tracked := map[string]struct{}{"wallet-1": {}}
	transferFeed.handleNotification(ctx, chain.LogNotification{Signature: "sig-sell"}, tracked)

	pos, err := positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.InDelta(t, 400, pos.TotalSoldTokens, 1e-9)
	assert.Equal(t, 1, pos.SellCount)
	assert.Equal(t, 1, guard.Used())

	// Redelivery of the same notification is absorbed downstream.
	transferFeed.handleNotification(ctx, chain.LogNotification{Signature: "sig-sell"}, tracked)
	pos, err = positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos.SellCount)
}

func TestHandleNotification_FailedTxDropped(t *testing.T) {
	positions := memory.NewPositionStore()
	provider := chainstub.NewProvider()
	guard := credits.NewGuard(memory.NewCreditLedgerStore(), 1000)
	require.NoError(t, guard.Sync(context.Background()))

	logger := log.New(testWriter{t}, "", 0)
	aggregator := pnl.NewAggregator(positions, memory.NewWalletMetricsStore())
	processor := NewProcessor(positions, memory.NewSignatureStore(), marketstub.NewFeed(), aggregator, logger)
	transferFeed := NewTransferFeed(nil, provider, positions, processor, guard, logger)

	provider.AddTransaction(&chain.TransactionDetail{
		Signature: "sig-failed",
		Failed:    true,
		TokenTransfers: []chain.TokenTransfer{
			{From: "wallet-1", To: "pool", Mint: "mint-1", Amount: 400},
		},
	})

	transferFeed.handleNotification(context.Background(), chain.LogNotification{Signature: "sig-failed"}, map[string]struct{}{"wallet-1": {}})
	assert.Equal(t, 1, provider.TxCalls)
	assert.Equal(t, 1, guard.Used())
}
