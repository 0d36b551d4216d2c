package pnl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/88simon/Meridinate/internal/domain"
)

func TestCapRatio(t *testing.T) {
	assert.Equal(t, 10.0, CapRatio(50.0))
	assert.Equal(t, 0.1, CapRatio(0.01))
	assert.Equal(t, 1.5, CapRatio(1.5))
	assert.Equal(t, 10.0, CapRatio(10.0))
	assert.Equal(t, 0.1, CapRatio(0.1))
}

func TestExpectancy_Empty(t *testing.T) {
	e := Expectancy(nil)
	assert.Zero(t, e.Expectancy)
	assert.Zero(t, e.ClosedCount)
	assert.False(t, e.Scored())
	assert.Empty(t, e.SuggestedLabel)
}

func TestExpectancy_SmartWallet(t *testing.T) {
	// Three wins (2x, 3x, 1.5x) and two losses (0.5x, 0.8x).
	e := Expectancy([]float64{2.0, 3.0, 0.5, 1.5, 0.8})

	assert.Equal(t, 5, e.ClosedCount)
	assert.True(t, e.Scored())
	assert.InDelta(t, 0.6, e.WinRate, 1e-9)
	// Win sizes are the excess over break-even: (1.0+2.0+0.5)/3.
	assert.InDelta(t, 3.5/3.0, e.AvgWinSize, 1e-9)
	assert.InDelta(t, 0.35, e.AvgLossSize, 1e-9)
	// 0.6*(3.5/3) - 0.4*0.35 = 0.56
	assert.InDelta(t, 0.56, e.Expectancy, 1e-9)
	assert.Equal(t, domain.LabelSmart, e.SuggestedLabel)
}

func TestExpectancy_BreakEvenBoundary(t *testing.T) {
	// Four doubles against two halvings lands right on the Smart
	// threshold: 2/3*1.0 - 1/3*0.5 = 0.5, not enough to promote.
	e := Expectancy([]float64{2.0, 2.0, 2.0, 2.0, 0.5, 0.5})

	assert.Equal(t, 6, e.ClosedCount)
	assert.True(t, e.Scored())
	assert.InDelta(t, 0.5, e.Expectancy, 1e-9)
	assert.Empty(t, e.SuggestedLabel)
}

func TestExpectancy_DumbWallet(t *testing.T) {
	e := Expectancy([]float64{0.3, 0.5, 0.4, 1.1, 0.6})

	assert.True(t, e.Scored())
	assert.Less(t, e.Expectancy, domain.DumbExpectancyThreshold)
	assert.Equal(t, domain.LabelDumb, e.SuggestedLabel)
}

func TestExpectancy_CapsOutliers(t *testing.T) {
	// One moonshot among losses: capped to 10x it cannot carry the
	// wallet to an unbounded score.
	capped := Expectancy([]float64{500.0, 0.5, 0.5, 0.5, 0.5})
	uncappedEquivalent := Expectancy([]float64{10.0, 0.5, 0.5, 0.5, 0.5})

	assert.Equal(t, capped.Expectancy, uncappedEquivalent.Expectancy)
	assert.InDelta(t, 0.2*9.0-0.8*0.5, capped.Expectancy, 1e-9)

	// The displayed average keeps the raw moonshot.
	assert.InDelta(t, (500.0+4*0.5)/5, capped.AvgPnl, 1e-9)
}

func TestExpectancy_TooFewClosed(t *testing.T) {
	e := Expectancy([]float64{5.0, 5.0, 5.0, 5.0})

	assert.False(t, e.Scored())
	// Score is computed but no label may be suggested from 4 positions.
	assert.Greater(t, e.Expectancy, domain.SmartExpectancyThreshold)
	assert.Empty(t, e.SuggestedLabel)
}
