package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/portfolio"
)

func TestMaxDrawdownWithRecovery(t *testing.T) {
	values := []float64{100, 110, 99, 105, 110, 120}
	mdd, rec := maxDrawdown(values)
	assert.InDelta(t, 99.0/110.0-1, mdd, 1e-12)
	assert.Equal(t, 2, rec) // trough at index 2, back at the peak by index 4
}

func TestMaxDrawdownUnrecovered(t *testing.T) {
	values := []float64{100, 120, 90, 95}
	mdd, rec := maxDrawdown(values)
	assert.InDelta(t, 90.0/120.0-1, mdd, 1e-12)
	assert.Equal(t, -1, rec)
}

func TestMaxDrawdownFlatCurve(t *testing.T) {
	mdd, rec := maxDrawdown([]float64{100, 100, 100})
	assert.Zero(t, mdd)
	assert.Zero(t, rec)
}

func TestPopStdev(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2.0/3.0), popStdev([]float64{1, 2, 3}), 1e-12)
	assert.Zero(t, popStdev(nil))
}

func TestDownsideDeviationIgnoresGains(t *testing.T) {
	// Only -0.02 and -0.04 contribute; n stays 4.
	got := downsideDeviation([]float64{0.03, -0.02, 0.01, -0.04})
	want := math.Sqrt((0.02*0.02 + 0.04*0.04) / 4)
	assert.InDelta(t, want, got, 1e-12)
}

func TestTailRiskQuantileAndTailMean(t *testing.T) {
	// 21 evenly spaced returns from -0.10 to +0.10. The 5% position is
	// exactly index 1, so no interpolation.
	returns := make([]float64, 21)
	for i := range returns {
		returns[i] = float64(i-10) / 100
	}
	v, cvar := tailRisk(returns, 0.05)
	assert.InDelta(t, -0.09, v, 1e-12)
	assert.InDelta(t, (-0.10-0.09)/2, cvar, 1e-12)
}

func TestTailRiskInterpolates(t *testing.T) {
	// Two returns: the 5% point sits between them.
	v, _ := tailRisk([]float64{-0.10, 0.10}, 0.05)
	assert.InDelta(t, -0.10*0.95+0.10*0.05, v, 1e-12)
}

func TestTurnoverSplitsSellAndReentry(t *testing.T) {
	values := []float64{90, 100, 110} // mean equity 100
	trades := []contracts.Trade{
		{Ticker: "AAA", Side: contracts.SideBuy, Notional: 100},
		{Ticker: "AAA", Side: contracts.SideSell, Notional: 50},
		{Ticker: "AAA", Side: contracts.SideBuy, Notional: 30}, // reentry
		{Ticker: "BBB", Side: contracts.SideBuy, Notional: 20}, // fresh entry
	}
	total, sell, reentry := turnover(trades, values)
	assert.InDelta(t, 2.0, total, 1e-12)
	assert.InDelta(t, 0.5, sell, 1e-12)
	assert.InDelta(t, 0.3, reentry, 1e-12)
}

func TestDecisionQuality(t *testing.T) {
	decisions := []contracts.SellDecision{
		{Oracle: true, Pct: 0, Reward: 0},    // missed stress
		{Oracle: false, Pct: 50, Reward: 0.5}, // sold into noise
		{Oracle: true, Pct: 100, Reward: 1},   // correct exit
	}
	missed, falseRate, regret := decisionQuality(decisions)
	assert.InDelta(t, 1.0/3.0, missed, 1e-12)
	assert.InDelta(t, 1.0/3.0, falseRate, 1e-12)
	assert.InDelta(t, 0.5, regret, 1e-12)
}

func TestYearReturnsChainAcrossBoundary(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return d
	}
	eq := []contracts.EquityPoint{
		{Date: day("2020-12-30"), Equity: 100},
		{Date: day("2020-12-31"), Equity: 110},
		{Date: day("2021-01-04"), Equity: 121},
	}
	got := yearReturns(eq)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.1, got[2020], 1e-12)
	assert.InDelta(t, 0.1, got[2021], 1e-12)
}

func TestComputeMetricsOnSteadyGrowth(t *testing.T) {
	// One year of sessions at a constant 0.1% per session.
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	eq := make([]contracts.EquityPoint, 253)
	v := 100_000.0
	for i := range eq {
		eq[i] = contracts.EquityPoint{Date: base.AddDate(0, 0, i), Equity: v}
		v *= 1.001
	}
	res := &portfolio.RunResult{Equity: eq, HoldingDays: []int{5, 15}}

	m := ComputeMetrics(res, nil)
	wantTotal := math.Pow(1.001, 252) - 1
	assert.InDelta(t, wantTotal, m.TotalReturn, 1e-9)
	assert.InDelta(t, wantTotal, m.CAGR, 1e-9) // exactly one trading year
	assert.Zero(t, m.MaxDrawdown)
	assert.InDelta(t, 0.0, m.AnnualVol, 1e-12)
	assert.InDelta(t, 10.0, m.AvgHoldingDays, 1e-12)
	assert.Zero(t, m.TradeCount)
}

func TestComputeMetricsEmptyRun(t *testing.T) {
	m := ComputeMetrics(&portfolio.RunResult{}, nil)
	assert.Zero(t, m.FinalEquity)
	assert.Equal(t, -1, m.RecoverySessions)
}
