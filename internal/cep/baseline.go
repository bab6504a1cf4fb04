package cep

import (
	"math"

	"github.com/wonny/cepfolio/internal/contracts"
)

// buildBaseline computes the X-bar/R baseline of one ticker.
//
// Preexisting tickers (first observation inside the warm-up) anchor their
// baseline end Buffer sessions before the last warm-up session and become
// eligible Buffer sessions after that anchor. Tickers appearing after the
// warm-up anchor on their own WindowSize-th observation and become eligible
// at the first later session with a complete valid subgroup.
func (c *Classifier) buildBaseline(ticker string, ti int) *contracts.BaselineLimits {
	cal := c.signals.Calendar()
	row := c.signals.Series(ti)
	winSize := c.params.WindowSize()
	n := c.params.SubgroupSize

	b := &contracts.BaselineLimits{Ticker: ticker, Insufficient: true}

	// Observation indices: sessions where the signal is finite.
	obs := make([]int, 0, len(row))
	for si, v := range row {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			obs = append(obs, si)
		}
	}
	if len(obs) == 0 {
		return b
	}

	warmupLast := cal.FloorIndex(c.params.WarmupEnd)
	preexisting := warmupLast >= 0 && obs[0] <= warmupLast

	var baselineEndIdx int
	if preexisting {
		baselineEndIdx = warmupLast - c.params.Buffer
		if baselineEndIdx < 0 {
			return b
		}
	} else {
		if len(obs) < winSize {
			return b
		}
		baselineEndIdx = obs[winSize-1]
	}
	b.BaselineEnd = cal.At(baselineEndIdx)

	// Window: the last WindowSize observations at or before the anchor.
	cut := 0
	for cut < len(obs) && obs[cut] <= baselineEndIdx {
		cut++
	}
	if cut < winSize {
		return b
	}
	window := obs[cut-winSize : cut]
	b.BaselineStart = cal.At(window[0])

	vals := make([]float64, winSize)
	for i, si := range window {
		vals[i] = row[si]
	}

	// K sliding subgroups of N.
	var sumMean, sumRange float64
	for i := 0; i+n <= winSize; i++ {
		m, r := meanRange(vals[i : i+n])
		sumMean += m
		sumRange += r
	}
	k := float64(winSize - n + 1)
	b.GrandMean = sumMean / k
	b.MeanRange = sumRange / k
	b.LCLXbar = b.GrandMean - c.params.A2*b.MeanRange
	b.UCLXbar = b.GrandMean + c.params.A2*b.MeanRange
	b.LCLRange = c.params.D3 * b.MeanRange
	b.UCLRange = c.params.D4 * b.MeanRange
	b.Sigma = sampleStdev(vals)

	// Eligibility: preexisting tickers wait out the buffer; late tickers
	// wait for the first complete valid subgroup after the anchor.
	if preexisting {
		eligIdx := baselineEndIdx + c.params.Buffer
		if eligIdx >= cal.Len() {
			return b
		}
		b.EligibleFrom = cal.At(eligIdx)
	} else {
		eligIdx := -1
		for si := baselineEndIdx; si < cal.Len(); si++ {
			if si-n+1 < 0 {
				continue
			}
			if allFinite(row[si-n+1 : si+1]) {
				eligIdx = si
				break
			}
		}
		if eligIdx < 0 {
			return b
		}
		b.EligibleFrom = cal.At(eligIdx)
	}

	b.Insufficient = false
	return b
}

// sampleStdev is the ddof=1 standard deviation. NaN when n < 2.
func sampleStdev(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return math.NaN()
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}
