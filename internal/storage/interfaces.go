package storage

import (
	"context"
	"time"

	"github.com/88simon/Meridinate/internal/domain"
)

// BuyParams describes one buy applied to a position. Tokens and Usd are
// added to the bought aggregates in a single relative-delta statement that
// also re-derives avg_entry_price.
type BuyParams struct {
	Wallet        string
	Mint          string
	Tokens        float64
	Usd           float64
	NewBalance    float64
	NewBalanceUsd float64
}

// SellParams describes one sell applied to a position. The realized-PnL
// delta and, on full exit, the pnl ratio are computed inside the store
// statement from the stored avg_entry_price so a concurrent writer cannot
// slip between read and write.
type SellParams struct {
	Wallet        string
	Mint          string
	Tokens        float64
	Usd           float64
	NewBalance    float64
	NewBalanceUsd float64
	IsFullExit    bool
	// ExitMarketCap is recorded once, at the full-exit transition.
	ExitMarketCap float64
	// CurrentMarketCap feeds the counterfactual fpnl ratio on full exit.
	CurrentMarketCap float64
}

// ReactivateParams starts a fresh buy sequence on a closed position:
// re-entry after a full exit. Bought/sold aggregates are reset to the new
// buy; buy/sell counters stay monotonic; exit fields are preserved.
type ReactivateParams struct {
	Wallet         string
	Mint           string
	Tokens         float64
	Usd            float64
	NewBalanceUsd  float64
	EntryMarketCap float64
}

// ReconcileSellParams backfills sell data on an already-closed position.
// Entry fields and buy_count are never touched.
type ReconcileSellParams struct {
	Wallet        string
	Mint          string
	Tokens        float64
	Usd           float64
	ExitMarketCap float64
}

// PositionStore provides access to tracked positions. All counter and
// aggregate mutations are single-statement relative-delta writes that bump
// the position version, so two concurrent writers never lose an update.
type PositionStore interface {
	// Get retrieves a position by key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, wallet, mint string) (*domain.Position, error)

	// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Position, error)

	// UpsertEntry creates the position with its entry fields, or, on
	// conflict, refreshes only holding state and balance; entry fields
	// and aggregates are insert-only. Returns the position ID.
	UpsertEntry(ctx context.Context, p *domain.Position) (int64, error)

	// ApplyBuy adds a buy to the bought aggregates and re-derives
	// avg_entry_price in the same statement.
	ApplyBuy(ctx context.Context, params BuyParams) error

	// ApplySell adds a sell to the sold aggregates and accrues the
	// realized-PnL delta. On full exit it also closes the position and
	// records pnl/fpnl ratios and exit fields exactly once.
	ApplySell(ctx context.Context, params SellParams) error

	// ReactivateForBuy reopens a closed position as a new buy sequence.
	// Returns ErrNotFound if the position does not exist or is not closed.
	ReactivateForBuy(ctx context.Context, params ReactivateParams) error

	// UpdateHolding refreshes balance and pnl ratio for a no-delta check.
	// A zero pnlRatio retains the stored value (price unavailable).
	UpdateHolding(ctx context.Context, wallet, mint string, balance, balanceUsd, pnlRatio float64) error

	// MarkSoldOut closes a position from a price-based estimate when no
	// sell transaction could be resolved.
	MarkSoldOut(ctx context.Context, wallet, mint string, pnlRatio, fpnlRatio, exitMarketCap float64) error

	// MarkChecked stamps position_checked_at without other mutation, to
	// guarantee scan liveness on branches that change nothing else.
	MarkChecked(ctx context.Context, id int64) error

	// ListStale returns holding, tracking-enabled positions not checked
	// within staleThreshold whose wallet passes the multi-token gate
	// (>= minTokenGate distinct tracked mints), oldest-checked first.
	ListStale(ctx context.Context, staleThreshold time.Duration, minTokenGate, limit int) ([]*domain.Position, error)

	// ListNeedingReconciliation returns closed positions whose sell was
	// never priced (total_sold_usd = 0 or sell_count = 0). Empty mint
	// means all mints.
	ListNeedingReconciliation(ctx context.Context, mint string, limit int) ([]*domain.Position, error)

	// ApplySellReconciliation backfills sell aggregates and pnl on a
	// closed position.
	ApplySellReconciliation(ctx context.Context, params ReconcileSellParams) error

	// RefreshHoldingPnl bulk-updates pnl_ratio for holding positions of a
	// mint from the current market cap. Returns rows updated.
	RefreshHoldingPnl(ctx context.Context, mint string, currentMarketCap float64) (int64, error)

	// RefreshSoldFpnl bulk-updates fpnl_ratio for sold positions of a
	// mint from the current market cap. Returns rows updated.
	RefreshSoldFpnl(ctx context.Context, mint string, currentMarketCap float64) (int64, error)

	// StopTracking freezes a position (administrative or full exit).
	StopTracking(ctx context.Context, id int64, reason string) error

	// ResumeTracking re-enables a stopped position.
	ResumeTracking(ctx context.Context, id int64) error

	// ListPnlRatios returns all non-zero pnl ratios for a wallet.
	ListPnlRatios(ctx context.Context, wallet string) ([]float64, error)

	// ListClosedPnlRatios returns pnl ratios of closed positions only.
	ListClosedPnlRatios(ctx context.Context, wallet string) ([]float64, error)

	// ListByWallet returns all positions for a wallet, newest entry first.
	ListByWallet(ctx context.Context, wallet string) ([]*domain.Position, error)

	// ListDistinctMints returns every mint with at least one position.
	ListDistinctMints(ctx context.Context) ([]string, error)

	// ListActiveWallets returns wallets with at least one holding,
	// tracking-enabled position.
	ListActiveWallets(ctx context.Context) ([]string, error)

	// PurgeAll wipes all positions. Administrative only.
	PurgeAll(ctx context.Context) (int64, error)
}

// WalletMetricsStore provides access to the derived per-wallet scorecard.
type WalletMetricsStore interface {
	// Upsert writes the recomputed metrics for a wallet.
	Upsert(ctx context.Context, m *domain.WalletMetrics) error

	// Get retrieves metrics for a wallet. Returns ErrNotFound if not exists.
	Get(ctx context.Context, wallet string) (*domain.WalletMetrics, error)

	// ListByExpectancy returns wallets with >= minClosed closed positions,
	// best expectancy first.
	ListByExpectancy(ctx context.Context, minClosed, limit int) ([]*domain.WalletMetrics, error)

	// PurgeAll wipes all wallet metrics. Administrative only.
	PurgeAll(ctx context.Context) (int64, error)
}

// CreditLedgerStore persists per-operation credit usage for budget
// enforcement and reporting.
type CreditLedgerStore interface {
	// Record appends one usage row.
	Record(ctx context.Context, usage *domain.CreditUsage) error

	// UsageSince returns total credits recorded at or after since.
	UsageSince(ctx context.Context, since time.Time) (int, error)

	// UsageByOperation returns credits per operation recorded at or
	// after since.
	UsageByOperation(ctx context.Context, since time.Time) (map[string]int, error)
}

// SignatureStore is the webhook idempotency ledger. A signature+direction
// pair is processed at most once.
type SignatureStore interface {
	// MarkProcessed records the pair. Returns ErrDuplicateKey when it was
	// already recorded; the caller treats that as an absorbed duplicate.
	MarkProcessed(ctx context.Context, signature string, direction domain.TransferDirection) error
}

// PnlSnapshotStore provides access to the PnL snapshot timeseries.
type PnlSnapshotStore interface {
	// InsertBulk appends snapshot points.
	InsertBulk(ctx context.Context, snapshots []*domain.PnlSnapshot) error

	// GetByPosition retrieves points for one (wallet, mint), ordered by
	// timestamp ASC.
	GetByPosition(ctx context.Context, wallet, mint string) ([]*domain.PnlSnapshot, error)
}
