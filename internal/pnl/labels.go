package pnl

import "github.com/88simon/Meridinate/internal/domain"

// NextLabel applies labeling hysteresis: a wallet flips to Smart or Dumb
// at the entry thresholds but keeps its current label through moderate
// regression, so scores oscillating around a threshold do not flap the
// label every recalculation.
func NextLabel(current string, e domain.WalletExpectancy) string {
	if !e.Scored() {
		// Not enough closed positions to judge; an existing label is
		// stale evidence at best, so it stays until the sample fills.
		return current
	}

	switch current {
	case domain.LabelSmart:
		if e.Expectancy < domain.SmartKeepThreshold {
			return demote(e)
		}
		return domain.LabelSmart
	case domain.LabelDumb:
		if e.Expectancy > domain.DumbKeepThreshold {
			return promote(e)
		}
		return domain.LabelDumb
	default:
		return e.SuggestedLabel
	}
}

func demote(e domain.WalletExpectancy) string {
	if e.Expectancy < domain.DumbExpectancyThreshold {
		return domain.LabelDumb
	}
	return domain.LabelNone
}

func promote(e domain.WalletExpectancy) string {
	if e.Expectancy > domain.SmartExpectancyThreshold {
		return domain.LabelSmart
	}
	return domain.LabelNone
}
