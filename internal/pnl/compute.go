// Package pnl derives wallet-level performance from position PnL ratios:
// capped expectancy scoring and Smart/Dumb labeling with hysteresis.
package pnl

import "github.com/88simon/Meridinate/internal/domain"

// CapRatio bounds a PnL ratio to [PnlCapMin, PnlCapMax] so a single
// outlier trade cannot dominate a wallet's score.
func CapRatio(ratio float64) float64 {
	if ratio > domain.PnlCapMax {
		return domain.PnlCapMax
	}
	if ratio < domain.PnlCapMin {
		return domain.PnlCapMin
	}
	return ratio
}

// Expectancy computes the expectancy score over closed-position PnL
// ratios. A ratio above 1.0 is a win. Win sizes are measured as capped
// excess over break-even, loss sizes as capped shortfall below it:
//
//	expectancy = winRate*avgWinSize - (1-winRate)*avgLossSize
//
// Returns a zero-valued result for an empty input.
func Expectancy(ratios []float64) domain.WalletExpectancy {
	var e domain.WalletExpectancy
	e.ClosedCount = len(ratios)
	if len(ratios) == 0 {
		return e
	}

	var winSum, lossSum, total float64
	var wins, losses int
	for _, r := range ratios {
		// The displayed average stays uncapped; capping applies to the
		// win/loss sizing that feeds the score.
		total += r
		capped := CapRatio(r)
		if capped > 1.0 {
			wins++
			winSum += capped - 1.0
		} else {
			losses++
			lossSum += 1.0 - capped
		}
	}

	e.WinRate = float64(wins) / float64(len(ratios))
	e.AvgPnl = total / float64(len(ratios))
	if wins > 0 {
		e.AvgWinSize = winSum / float64(wins)
	}
	if losses > 0 {
		e.AvgLossSize = lossSum / float64(losses)
	}
	e.Expectancy = e.WinRate*e.AvgWinSize - (1.0-e.WinRate)*e.AvgLossSize

	if e.Scored() {
		switch {
		case e.Expectancy > domain.SmartExpectancyThreshold:
			e.SuggestedLabel = domain.LabelSmart
		case e.Expectancy < domain.DumbExpectancyThreshold:
			e.SuggestedLabel = domain.LabelDumb
		}
	}

	return e
}
