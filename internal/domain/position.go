package domain

import "time"

// BalanceEpsilon suppresses float noise when comparing token balances.
// Deltas smaller than this are treated as "no change".
const BalanceEpsilon = 0.001

// FullExitBalanceFraction marks a sell as a full exit when the sold amount
// covers at least this share of the previous balance, even if dust remains.
const FullExitBalanceFraction = 0.99

// Tracking stop reasons.
const (
	StopReasonSold   = "sold"
	StopReasonManual = "manual"
)

// Position is one wallet's holdings-and-trading history in one token.
// It is keyed by (wallet, mint) and mutated only by the balance-diff
// scanner and the transfer event processor.
//
// AvgEntryPrice is always derived as TotalBoughtUsd / TotalBoughtTokens,
// never written independently. Version is bumped by every mutating store
// statement so concurrent writers can be audited.
type Position struct {
	ID     int64
	Wallet string
	Mint   string

	StillHolding    bool
	TrackingEnabled bool

	CurrentBalance    float64
	CurrentBalanceUsd float64

	EntryMarketCap  float64
	EntryBalance    float64
	EntryBalanceUsd float64
	EntryTimestamp  time.Time

	TotalBoughtTokens float64
	TotalBoughtUsd    float64
	TotalSoldTokens   float64
	TotalSoldUsd      float64
	AvgEntryPrice     float64
	BuyCount          int
	SellCount         int

	RealizedPnl float64
	// PnlRatio is currentMarketCap/entryMarketCap while holding and
	// (proceeds/tokensSold)/avgEntryPrice once sold.
	PnlRatio float64
	// FpnlRatio is the counterfactual return had the wallet held:
	// currentMarketCap/entryMarketCap, refreshed for both holding and
	// sold positions. The stored value is a display cache.
	FpnlRatio float64

	ExitMarketCap  float64
	ExitDetectedAt time.Time

	PositionCheckedAt     time.Time
	TrackingStoppedAt     time.Time
	TrackingStoppedReason string

	Version   int64
	CreatedAt time.Time
}

// Closed reports whether the position has fully exited.
func (p *Position) Closed() bool {
	return !p.StillHolding
}

// FirstCheck reports whether the position has never been balance-checked.
func (p *Position) FirstCheck() bool {
	return p.PositionCheckedAt.IsZero()
}

// IsFullExit applies the exit rule to a detected sell.
func IsFullExit(newBalance, soldTokens, previousBalance float64) bool {
	if newBalance < BalanceEpsilon {
		return true
	}
	return previousBalance > 0 && soldTokens >= FullExitBalanceFraction*previousBalance
}
