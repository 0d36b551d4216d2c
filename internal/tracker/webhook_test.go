package tracker

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/88simon/Meridinate/internal/domain"
	marketstub "github.com/88simon/Meridinate/internal/market/stub"
	"github.com/88simon/Meridinate/internal/pnl"
	"github.com/88simon/Meridinate/internal/storage/memory"
)

type webhookFixture struct {
	positions *memory.PositionStore
	feed      *marketstub.Feed
	processor *Processor
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	positions := memory.NewPositionStore()
	feed := marketstub.NewFeed()
	aggregator := pnl.NewAggregator(positions, memory.NewWalletMetricsStore())
	logger := log.New(testWriter{t}, "", 0)

	return &webhookFixture{
		positions: positions,
		feed:      feed,
		processor: NewProcessor(positions, memory.NewSignatureStore(), feed, aggregator, logger),
	}
}

func (f *webhookFixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.positions.UpsertEntry(context.Background(), &domain.Position{
		Wallet:            "wallet-1",
		Mint:              "mint-1",
		CurrentBalance:    1000,
		EntryMarketCap:    10000,
		EntryBalance:      1000,
		EntryBalanceUsd:   100,
		TotalBoughtTokens: 1000,
		TotalBoughtUsd:    100,
		BuyCount:          1,
	})
	require.NoError(t, err)
}

func buyEvent(sig string, amount float64) domain.TransferEvent {
	return domain.TransferEvent{
		Wallet:    "wallet-1",
		Mint:      "mint-1",
		Amount:    amount,
		Direction: domain.DirectionBuy,
		Signature: sig,
	}
}

func sellEvent(sig string, amount float64) domain.TransferEvent {
	ev := buyEvent(sig, amount)
	ev.Direction = domain.DirectionSell
	return ev
}

func TestHandleTransfer_Buy(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	outcome, err := f.processor.HandleTransfer(ctx, buyEvent("sig-1", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.InDelta(t, 1500, pos.TotalBoughtTokens, 1e-9)
	assert.InDelta(t, 200, pos.TotalBoughtUsd, 1e-9)
	assert.InDelta(t, 1500, pos.CurrentBalance, 1e-9)
	assert.Equal(t, 2, pos.BuyCount)
}

func TestHandleTransfer_SellPartial(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	outcome, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 400))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.True(t, pos.StillHolding)
	assert.InDelta(t, 600, pos.CurrentBalance, 1e-9)
	assert.InDelta(t, 80, pos.TotalSoldUsd, 1e-9)
	// 400 tokens at $0.20 against a $0.10 entry.
	assert.InDelta(t, 40, pos.RealizedPnl, 1e-9)
}

func TestHandleTransfer_SellFullExit(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	outcome, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 1000))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.False(t, pos.StillHolding)
	assert.False(t, pos.TrackingEnabled)
	assert.InDelta(t, 2.0, pos.PnlRatio, 1e-9)
	assert.InDelta(t, 20000, pos.ExitMarketCap, 1e-9)
}

func TestHandleTransfer_SellDustLeavesNoResidualBalance(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	// 995 of 1000 crosses the sold-fraction threshold with dust left;
	// the close must swallow the remainder.
	outcome, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 995))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.False(t, pos.StillHolding)
	assert.InDelta(t, 0, pos.CurrentBalance, 1e-9)
	assert.InDelta(t, 0, pos.CurrentBalanceUsd, 1e-9)
	assert.InDelta(t, 995, pos.TotalSoldTokens, 1e-9)
}

func TestHandleTransfer_StoppedPositionFrozen(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	require.NoError(t, f.positions.StopTracking(ctx, pos.ID, domain.StopReasonManual))

	outcome, err := f.processor.HandleTransfer(ctx, buyEvent("sig-1", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)

	outcome, err = f.processor.HandleTransfer(ctx, sellEvent("sig-2", 400))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)

	frozen, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 1, frozen.BuyCount)
	assert.Equal(t, 0, frozen.SellCount)
	assert.InDelta(t, 1000, frozen.TotalBoughtTokens, 1e-9)

	// Administrative resume lifts the freeze.
	require.NoError(t, f.positions.ResumeTracking(ctx, pos.ID))
	outcome, err = f.processor.HandleTransfer(ctx, buyEvent("sig-3", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)
}

func TestHandleTransfer_ReplayIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	_, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 400))
	require.NoError(t, err)

	outcome, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 400))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.InDelta(t, 400, pos.TotalSoldTokens, 1e-9)
	assert.InDelta(t, 80, pos.TotalSoldUsd, 1e-9)
	assert.Equal(t, 1, pos.SellCount)
}

func TestHandleTransfer_UnknownPositionIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)

	outcome, err := f.processor.HandleTransfer(context.Background(), buyEvent("sig-1", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)
}

func TestHandleTransfer_QuoteUnavailableIgnoredAndRedeliverable(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	ctx := context.Background()

	outcome, err := f.processor.HandleTransfer(ctx, buyEvent("sig-1", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)

	// The signature was not burned: once the quote exists, redelivery
	// of the same event applies.
	f.feed.SetQuote("mint-1", 0.2, 20000)
	outcome, err = f.processor.HandleTransfer(ctx, buyEvent("sig-1", 500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)
}

func TestHandleTransfer_ReentryAfterFullExit(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	_, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 1000))
	require.NoError(t, err)

	f.feed.SetQuote("mint-1", 0.05, 5000)
	outcome, err := f.processor.HandleTransfer(ctx, buyEvent("sig-2", 2000))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferApplied, outcome)

	pos, err := f.positions.Get(ctx, "wallet-1", "mint-1")
	require.NoError(t, err)
	assert.True(t, pos.StillHolding)
	assert.True(t, pos.TrackingEnabled)
	// Fresh buy sequence: aggregates reset, counters monotonic, the
	// prior exit and realized pnl preserved.
	assert.InDelta(t, 2000, pos.TotalBoughtTokens, 1e-9)
	assert.InDelta(t, 100, pos.TotalBoughtUsd, 1e-9)
	assert.InDelta(t, 0.05, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 5000, pos.EntryMarketCap, 1e-9)
	assert.Equal(t, 2, pos.BuyCount)
	assert.Equal(t, 1, pos.SellCount)
	assert.InDelta(t, 100, pos.RealizedPnl, 1e-9)
	assert.InDelta(t, 20000, pos.ExitMarketCap, 1e-9)
}

func TestHandleTransfer_SellOnClosedPositionIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t)
	f.feed.SetQuote("mint-1", 0.2, 20000)
	ctx := context.Background()

	_, err := f.processor.HandleTransfer(ctx, sellEvent("sig-1", 1000))
	require.NoError(t, err)

	outcome, err := f.processor.HandleTransfer(ctx, sellEvent("sig-2", 50))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferIgnored, outcome)
}
