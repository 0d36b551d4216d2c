package credits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/88simon/Meridinate/internal/domain"
	"github.com/88simon/Meridinate/internal/storage/memory"
)

func TestGuard_BudgetWithHeadroom(t *testing.T) {
	ledger := memory.NewCreditLedgerStore()
	guard := NewGuard(ledger, 25, WithHeadroom(20))
	ctx := context.Background()

	require.NoError(t, guard.Sync(ctx))

	ok, err := guard.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, guard.Charge(ctx, "balance_lookup", 1, "wallet-1", "mint-1"))
	}
	assert.Equal(t, 5, guard.Used())

	// 5 used + 20 headroom hits the budget exactly; still allowed.
	ok, err = guard.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, guard.Charge(ctx, "balance_lookup", 1, "wallet-1", "mint-1"))

	// 6 used + 20 headroom exceeds 25.
	ok, err = guard.CanSpend(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunBudget_CapsOneRun(t *testing.T) {
	ledger := memory.NewCreditLedgerStore()
	guard := NewGuard(ledger, 1000, WithHeadroom(2))
	ctx := context.Background()

	require.NoError(t, guard.Sync(ctx))

	run := guard.BeginRun(5)
	for i := 0; i < 3; i++ {
		ok, err := run.CanSpend(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, guard.Charge(ctx, "tx_fetch", 1, "wallet-1", "mint-1"))
	}

	// 3 used this run + 2 headroom hits the run cap.
	ok, err := run.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, guard.Charge(ctx, "tx_fetch", 1, "wallet-1", "mint-1"))

	ok, err = run.CanSpend(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, run.Used())

	// The daily budget is barely touched and the next run starts fresh.
	ok, err = guard.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	next := guard.BeginRun(5)
	assert.Equal(t, 0, next.Used())
	ok, err = next.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunBudget_ZeroCapFallsBackToDaily(t *testing.T) {
	ledger := memory.NewCreditLedgerStore()
	guard := NewGuard(ledger, 3, WithHeadroom(2))
	ctx := context.Background()

	require.NoError(t, guard.Sync(ctx))

	run := guard.BeginRun(0)
	ok, err := run.CanSpend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, guard.Charge(ctx, "tx_fetch", 1, "wallet-1", "mint-1"))
	require.NoError(t, guard.Charge(ctx, "tx_fetch", 1, "wallet-1", "mint-1"))

	ok, err = run.CanSpend(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_SyncHydratesFromLedger(t *testing.T) {
	ledger := memory.NewCreditLedgerStore()
	ctx := context.Background()

	// Spend recorded by an earlier run today.
	require.NoError(t, ledger.Record(ctx, &domain.CreditUsage{
		Operation:  "tx_fetch",
		Credits:    7,
		RecordedAt: time.Now().UTC(),
	}))

	guard := NewGuard(ledger, 100)
	require.NoError(t, guard.Sync(ctx))
	assert.Equal(t, 7, guard.Used())

	// Yesterday's spend does not count against today.
	require.NoError(t, ledger.Record(ctx, &domain.CreditUsage{
		Operation:  "tx_fetch",
		Credits:    50,
		RecordedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	require.NoError(t, guard.Sync(ctx))
	assert.Equal(t, 7, guard.Used())
}

func TestGuard_ChargePersistsToLedger(t *testing.T) {
	ledger := memory.NewCreditLedgerStore()
	guard := NewGuard(ledger, 100)
	ctx := context.Background()

	require.NoError(t, guard.Sync(ctx))
	require.NoError(t, guard.Charge(ctx, "balance_lookup", 1, "wallet-1", "mint-1"))
	require.NoError(t, guard.Charge(ctx, "signature_list", 1, "wallet-1", "mint-1"))

	byOp, err := ledger.UsageByOperation(ctx, utcDayStart(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"balance_lookup": 1, "signature_list": 1}, byOp)
}
