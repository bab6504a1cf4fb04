package sellpolicy

import (
	"math"

	"github.com/wonny/cepfolio/internal/marketdata"
)

// RegimeState is the portfolio-wide market state.
type RegimeState string

const (
	RegimeNormal    RegimeState = "NORMAL"
	RegimeDefensive RegimeState = "DEFENSIVE"
)

// RegimeDetector is a two-sided hysteresis state machine over the rolling
// slope of the portfolio-wide mean log return. Entering DEFENSIVE takes two
// consecutive negative slopes; leaving takes three consecutive positive
// ones. The asymmetry is deliberate: it suppresses flip-flopping around
// zero.
type RegimeDetector struct {
	slopes []float64
	states []RegimeState
}

// NewRegimeDetector precomputes the regime series from a log-return panel.
func NewRegimeDetector(returns *marketdata.Panel, window int) *RegimeDetector {
	n := returns.Calendar().Len()

	// Cross-sectional mean return per session.
	mean := make([]float64, n)
	for si := 0; si < n; si++ {
		var sum float64
		cnt := 0
		for ti := range returns.Tickers() {
			v := returns.At(ti, si)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			cnt++
		}
		if cnt == 0 {
			mean[si] = math.NaN()
		} else {
			mean[si] = sum / float64(cnt)
		}
	}

	slopes := rollingSlope(mean, window)

	states := make([]RegimeState, n)
	state := RegimeNormal
	for si := 0; si < n; si++ {
		switch state {
		case RegimeNormal:
			if si >= 1 && slopes[si] < 0 && slopes[si-1] < 0 {
				state = RegimeDefensive
			}
		case RegimeDefensive:
			if si >= 2 && slopes[si] > 0 && slopes[si-1] > 0 && slopes[si-2] > 0 {
				state = RegimeNormal
			}
		}
		states[si] = state
	}

	return &RegimeDetector{slopes: slopes, states: states}
}

// StateAt returns the regime at session index si.
func (r *RegimeDetector) StateAt(si int) RegimeState {
	if si < 0 || si >= len(r.states) {
		return RegimeNormal
	}
	return r.states[si]
}

// DefensiveAt reports whether the portfolio is defensive at si.
func (r *RegimeDetector) DefensiveAt(si int) bool {
	return r.StateAt(si) == RegimeDefensive
}

// SlopeAt returns the rolling slope at si. NaN during warm-up.
func (r *RegimeDetector) SlopeAt(si int) float64 {
	if si < 0 || si >= len(r.slopes) {
		return math.NaN()
	}
	return r.slopes[si]
}

// Switches counts regime transitions over the whole series.
func (r *RegimeDetector) Switches() int {
	n := 0
	for i := 1; i < len(r.states); i++ {
		if r.states[i] != r.states[i-1] {
			n++
		}
	}
	return n
}
