package cep

import (
	"math"
	"testing"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

func sessions(n int) []time.Time {
	days := make([]time.Time, n)
	d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range days {
		days[i] = d.AddDate(0, 0, i)
	}
	return days
}

// patternPanel builds one ticker whose first `base` sessions cycle through
// {9.9, 10.0, 10.1} (grand mean 10, mean range 0.2) and whose remaining
// sessions take the given tail values.
func patternPanel(t *testing.T, base int, tail []float64) *marketdata.Panel {
	t.Helper()
	days := sessions(base + len(tail))
	cal, err := calendar.New(days)
	if err != nil {
		t.Fatal(err)
	}
	pattern := []float64{9.9, 10.0, 10.1}
	obs := make([]marketdata.Observation, 0, len(days))
	for i := 0; i < base; i++ {
		obs = append(obs, marketdata.Observation{Date: days[i], Ticker: "AAA", Value: pattern[i%3]})
	}
	for i, v := range tail {
		obs = append(obs, marketdata.Observation{Date: days[base+i], Ticker: "AAA", Value: v})
	}
	return marketdata.NewPanel(cal, obs)
}

func runClassifier(t *testing.T, panel *marketdata.Panel, params Params) *Result {
	t.Helper()
	c, err := NewClassifier(panel, params, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Run()
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestBaselineLimits(t *testing.T) {
	panel := patternPanel(t, 62, nil)
	res := runClassifier(t, panel, DefaultParams())

	b := res.Baselines["AAA"]
	if b.Insufficient {
		t.Fatal("baseline should be sufficient with 62 observations")
	}
	if math.Abs(b.GrandMean-10.0) > 1e-9 {
		t.Fatalf("grand mean = %v, want 10", b.GrandMean)
	}
	if math.Abs(b.MeanRange-0.2) > 1e-9 {
		t.Fatalf("mean range = %v, want 0.2", b.MeanRange)
	}
	if math.Abs(b.UCLXbar-(10+1.023*0.2)) > 1e-9 {
		t.Fatalf("UCL_Xbar = %v", b.UCLXbar)
	}
	if math.Abs(b.UCLRange-2.574*0.2) > 1e-9 {
		t.Fatalf("UCL_R = %v", b.UCLRange)
	}
	if b.LCLRange != 0 {
		t.Fatalf("LCL_R = %v, want 0", b.LCLRange)
	}
}

func TestLevelShiftClassifiesOutOfControl(t *testing.T) {
	// Subgroup mean pushed to grand mean + 4*A2*R-bar, well past the
	// X-bar upper limit.
	high := 10 + 4*1.023*0.2
	panel := patternPanel(t, 62, []float64{high, high, high})
	res := runClassifier(t, panel, DefaultParams())

	cal := panel.Calendar()
	// Eligible from the 62nd observation; the baseline-shaped subgroup
	// there is still in control.
	if got := res.StateAt("AAA", 61); got != contracts.StateInControl {
		t.Fatalf("state at baseline end = %v, want IN_CONTROL", got)
	}
	last := cal.Len() - 1
	if got := res.StateAt("AAA", last); got != contracts.StateOutOfControlLevel {
		t.Fatalf("state after level shift = %v, want OUT_OF_CONTROL_LEVEL", got)
	}
	if res.EtaAt("AAA", last) != 0 {
		t.Fatal("eta must be 0 when out of control")
	}
}

func TestVarianceBlowupClassifiesOutOfControlVar(t *testing.T) {
	// Mean stays at 10 but the subgroup range 0.6 exceeds D4*R-bar = 0.5148.
	panel := patternPanel(t, 62, []float64{9.7, 10.0, 10.3})
	res := runClassifier(t, panel, DefaultParams())

	last := panel.Calendar().Len() - 1
	if got := res.StateAt("AAA", last); got != contracts.StateOutOfControlVar {
		t.Fatalf("state = %v, want OUT_OF_CONTROL_VAR", got)
	}
}

func TestInsufficientHistory(t *testing.T) {
	panel := patternPanel(t, 30, nil)
	res := runClassifier(t, panel, DefaultParams())

	b := res.Baselines["AAA"]
	if !b.Insufficient {
		t.Fatal("30 observations must be insufficient")
	}
	if got := res.StateAt("AAA", 29); got != contracts.StateNone {
		t.Fatalf("insufficient ticker must have no state, got %v", got)
	}
}

func TestWarmupBufferAnchorsPreexistingTicker(t *testing.T) {
	panel := patternPanel(t, 70, nil)
	cal := panel.Calendar()

	params := DefaultParams()
	params.WarmupEnd = cal.At(65)
	params.Buffer = 2
	res := runClassifier(t, panel, params)

	b := res.Baselines["AAA"]
	if b.Insufficient {
		t.Fatal("preexisting ticker with full history must be sufficient")
	}
	// Baseline end pulled Buffer sessions before the warm-up end, and
	// eligibility starts Buffer sessions after the anchor.
	if !b.BaselineEnd.Equal(cal.At(63)) {
		t.Fatalf("baseline end = %v, want %v", b.BaselineEnd, cal.At(63))
	}
	if !b.EligibleFrom.Equal(cal.At(65)) {
		t.Fatalf("eligible from = %v, want %v", b.EligibleFrom, cal.At(65))
	}
	if got := res.StateAt("AAA", 64); got != contracts.StateNone {
		t.Fatalf("no state before eligibility, got %v", got)
	}
	if got := res.StateAt("AAA", 65); got != contracts.StateInControl {
		t.Fatalf("state at eligibility = %v, want IN_CONTROL", got)
	}
}

func TestGapInSubgroupSkipsSession(t *testing.T) {
	panel := patternPanel(t, 62, []float64{math.NaN(), 10.0, 10.1})
	res := runClassifier(t, panel, DefaultParams())

	// Sessions whose trailing subgroup includes the gap carry no state.
	for si := 62; si <= 64; si++ {
		if got := res.StateAt("AAA", si); got != contracts.StateNone {
			t.Fatalf("session %d: state = %v, want NO_STATE", si, got)
		}
	}
}
