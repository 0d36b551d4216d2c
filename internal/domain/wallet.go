package domain

import "time"

// Wallet classification labels.
const (
	LabelSmart = "Smart"
	LabelDumb  = "Dumb"
	LabelNone  = ""
)

// Expectancy scoring bounds and thresholds.
const (
	// PnlCapMax and PnlCapMin bound per-position ratios before scoring
	// so a single outlier cannot dominate the expectancy.
	PnlCapMax = 10.0
	PnlCapMin = 0.1

	// MinClosedPositions is the minimum closed-position sample size
	// before a wallet may be labeled at all.
	MinClosedPositions = 5

	SmartExpectancyThreshold = 0.5
	DumbExpectancyThreshold  = -0.2

	// Hysteresis floors: an already-Smart wallet keeps the label until
	// expectancy drops below SmartKeepThreshold; an already-Dumb wallet
	// keeps it until expectancy rises above DumbKeepThreshold.
	SmartKeepThreshold = 0.3
	DumbKeepThreshold  = 0.0
)

// WalletMetrics is the derived per-wallet scorecard, recomputed from
// priced positions after every scan batch that touches the wallet.
type WalletMetrics struct {
	Wallet         string
	WinCount       int
	LossCount      int
	TotalPositions int
	WinRate        float64
	AvgPnlRatio    float64
	Expectancy     float64
	ClosedCount    int
	Label          string
	UpdatedAt      time.Time
}

// WalletExpectancy is the expectancy scoring result over closed positions.
type WalletExpectancy struct {
	Wallet      string
	Expectancy  float64
	WinRate     float64
	AvgPnl      float64
	AvgWinSize  float64
	AvgLossSize float64
	ClosedCount int
	// SuggestedLabel is the threshold verdict before hysteresis.
	SuggestedLabel string
}

// Scored reports whether the wallet has enough closed positions to label.
func (e *WalletExpectancy) Scored() bool {
	return e.ClosedCount >= MinClosedPositions
}
