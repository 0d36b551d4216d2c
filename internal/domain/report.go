package domain

import "time"

// ScanReport summarizes one balance-diff scan run.
type ScanReport struct {
	Checked       int
	Holding       int
	Sold          int
	BuysDetected  int
	SellsDetected int
	Errors        int
	CreditsUsed   int
	// BudgetExhausted marks a clean early stop, not a failure.
	BudgetExhausted     int
	WalletsRecalculated int
	DurationMs          int64
}

// ReconciliationStatus is the per-position outcome of a reconcile pass.
type ReconciliationStatus string

const (
	ReconcileSuccess   ReconciliationStatus = "success"
	ReconcileNoTxFound ReconciliationStatus = "no_tx_found"
	ReconcileError     ReconciliationStatus = "error"
)

// ReconciliationResult is one position's reconcile outcome.
type ReconciliationResult struct {
	PositionID  int64
	Wallet      string
	Mint        string
	Status      ReconciliationStatus
	OldPnlRatio float64
	NewPnlRatio float64
	// Estimated marks a price-based fallback rather than an
	// authoritative transaction amount.
	Estimated bool
	Err       string
}

// ReconciliationReport summarizes a reconcile batch.
type ReconciliationReport struct {
	Found       int
	Reconciled  int
	NoTxFound   int
	Errors      int
	CreditsUsed int
	Results     []ReconciliationResult
}

// CreditUsage is one row of the persisted credit ledger.
type CreditUsage struct {
	ID         int64
	Operation  string
	Credits    int
	Wallet     string
	Mint       string
	RecordedAt time.Time
}

// PnlSnapshot is one point of the per-position PnL timeseries,
// appended by the periodic market-cap refresh job.
type PnlSnapshot struct {
	Wallet       string
	Mint         string
	PnlRatio     float64
	FpnlRatio    float64
	BalanceUsd   float64
	StillHolding bool
	TimestampMs  int64
}
