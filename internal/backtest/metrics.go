package backtest

import (
	"math"
	"sort"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/portfolio"
	"github.com/wonny/cepfolio/internal/sellpolicy"
)

// tradingDaysPerYear annualizes session-frequency statistics.
const tradingDaysPerYear = 252

// Metrics summarizes one run's equity curve, trading activity and
// sell-decision quality.
type Metrics struct {
	FinalEquity float64 `json:"final_equity"`
	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`

	MaxDrawdown      float64 `json:"max_drawdown"`
	RecoverySessions int     `json:"recovery_sessions"` // -1 when unrecovered

	AnnualVol   float64 `json:"annual_vol"`
	DownsideDev float64 `json:"downside_dev"`
	VaR95       float64 `json:"var_95"`
	CVaR95      float64 `json:"cvar_95"`

	TurnoverTotal   float64 `json:"turnover_total"`
	TurnoverSell    float64 `json:"turnover_sell"`
	TurnoverReentry float64 `json:"turnover_reentry"`
	AvgHoldingDays  float64 `json:"avg_holding_days"`
	TradeCount      int     `json:"trade_count"`

	MissedSellRate float64 `json:"missed_sell_rate"`
	FalseSellRate  float64 `json:"false_sell_rate"`
	Regret3D       float64 `json:"regret_3d"`

	// Regime breakdown, only set for runs with a regime detector.
	RegimeSwitches      int     `json:"regime_switches,omitempty"`
	DefensiveSessions   int     `json:"defensive_sessions,omitempty"`
	DefensiveMeanReturn float64 `json:"defensive_mean_return,omitempty"`
	NormalMeanReturn    float64 `json:"normal_mean_return,omitempty"`

	YearReturns map[int]float64 `json:"year_returns,omitempty"`
}

// ComputeMetrics derives all metrics from a finished run. Decisions may be
// nil for runs without a sell policy.
func ComputeMetrics(res *portfolio.RunResult, decisions []contracts.SellDecision) Metrics {
	m := Metrics{RecoverySessions: -1}
	eq := res.Equity
	if len(eq) == 0 {
		return m
	}

	values := make([]float64, len(eq))
	for i, p := range eq {
		values[i] = p.Equity
	}
	m.FinalEquity = values[len(values)-1]
	if values[0] > 0 {
		m.TotalReturn = m.FinalEquity/values[0] - 1
	}

	returns := simpleReturns(values)
	n := len(returns)
	if n > 0 && values[0] > 0 && m.FinalEquity > 0 {
		years := float64(n) / tradingDaysPerYear
		m.CAGR = math.Pow(m.FinalEquity/values[0], 1/years) - 1
	}

	m.MaxDrawdown, m.RecoverySessions = maxDrawdown(values)
	m.AnnualVol = popStdev(returns) * math.Sqrt(tradingDaysPerYear)
	m.DownsideDev = downsideDeviation(returns) * math.Sqrt(tradingDaysPerYear)
	m.VaR95, m.CVaR95 = tailRisk(returns, 0.05)

	m.TurnoverTotal, m.TurnoverSell, m.TurnoverReentry = turnover(res.Trades, values)
	m.TradeCount = len(res.Trades)
	if len(res.HoldingDays) > 0 {
		var sum int
		for _, d := range res.HoldingDays {
			sum += d
		}
		m.AvgHoldingDays = float64(sum) / float64(len(res.HoldingDays))
	}

	m.MissedSellRate, m.FalseSellRate, m.Regret3D = decisionQuality(decisions)
	m.YearReturns = yearReturns(eq)
	return m
}

// ApplyRegime splits the equity returns by the detector's state on each
// session and records the switch count.
func (m *Metrics) ApplyRegime(eq []contracts.EquityPoint, cal *calendar.SessionIndex, det *sellpolicy.RegimeDetector) {
	m.RegimeSwitches = det.Switches()

	var defSum, normSum float64
	var defN, normN int
	for i := 1; i < len(eq); i++ {
		r := 0.0
		if eq[i-1].Equity > 0 {
			r = eq[i].Equity/eq[i-1].Equity - 1
		}
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		if det.DefensiveAt(cal.Index(eq[i].Date)) {
			defSum += r
			defN++
		} else {
			normSum += r
			normN++
		}
	}
	m.DefensiveSessions = defN
	if defN > 0 {
		m.DefensiveMeanReturn = defSum / float64(defN)
	}
	if normN > 0 {
		m.NormalMeanReturn = normSum / float64(normN)
	}
}

func simpleReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		r := 0.0
		if values[i-1] > 0 {
			r = values[i]/values[i-1] - 1
		}
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		out[i-1] = r
	}
	return out
}

// maxDrawdown returns the deepest peak-to-trough loss and the number of
// sessions from the trough back to the prior peak, -1 when the curve never
// recovers.
func maxDrawdown(values []float64) (float64, int) {
	var mdd float64
	peakIdx, troughIdx := 0, 0
	curPeak := 0

	peak := math.Inf(-1)
	for i, v := range values {
		if v > peak {
			peak = v
			curPeak = i
		}
		if peak > 0 {
			dd := v/peak - 1
			if dd < mdd {
				mdd = dd
				peakIdx = curPeak
				troughIdx = i
			}
		}
	}
	if mdd == 0 {
		return 0, 0
	}

	target := values[peakIdx]
	for i := troughIdx + 1; i < len(values); i++ {
		if values[i] >= target {
			return mdd, i - troughIdx
		}
	}
	return mdd, -1
}

// popStdev is the population (ddof=0) standard deviation.
func popStdev(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// downsideDeviation penalizes only negative returns.
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var ss float64
	for _, r := range returns {
		if r < 0 {
			ss += r * r
		}
	}
	return math.Sqrt(ss / float64(len(returns)))
}

// tailRisk returns the q-quantile of returns (linear interpolation) and
// the mean of the tail at or below it.
func tailRisk(returns []float64, q float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	v := sorted[lo]
	if hi > lo {
		frac := pos - float64(lo)
		v = sorted[lo]*(1-frac) + sorted[hi]*frac
	}

	var sum float64
	cnt := 0
	for _, r := range sorted {
		if r <= v {
			sum += r
			cnt++
		}
	}
	cvar := v
	if cnt > 0 {
		cvar = sum / float64(cnt)
	}
	return v, cvar
}

// turnover relates traded notional to mean equity: total, sell-side only,
// and reentry buys (a ticker bought again after a full or partial exit).
func turnover(trades []contracts.Trade, values []float64) (total, sell, reentry float64) {
	var meanEq float64
	for _, v := range values {
		meanEq += v
	}
	if len(values) > 0 {
		meanEq /= float64(len(values))
	}
	if meanEq <= 0 {
		return 0, 0, 0
	}

	soldBefore := make(map[string]bool)
	var totalN, sellN, reentryN float64
	for _, tr := range trades {
		totalN += tr.Notional
		if tr.Side == contracts.SideSell {
			sellN += tr.Notional
			soldBefore[tr.Ticker] = true
			continue
		}
		if soldBefore[tr.Ticker] {
			reentryN += tr.Notional
		}
	}
	return totalN / meanEq, sellN / meanEq, reentryN / meanEq
}

// decisionQuality compares sell decisions against the ex-post oracle:
// missed = oracle stress with nothing sold, false = selling into noise,
// regret = shortfall against the oracle-optimal action.
func decisionQuality(decisions []contracts.SellDecision) (missed, falseRate, regret float64) {
	if len(decisions) == 0 {
		return 0, 0, 0
	}
	var missedN, falseN int
	var regretSum float64
	for _, d := range decisions {
		if d.Oracle && d.Pct <= 0 {
			missedN++
		}
		if !d.Oracle && d.Pct > 0 {
			falseN++
		}
		regretSum += 1 - d.Reward
	}
	n := float64(len(decisions))
	return float64(missedN) / n, float64(falseN) / n, regretSum / n
}

// yearReturns buckets the equity curve by calendar year.
func yearReturns(eq []contracts.EquityPoint) map[int]float64 {
	if len(eq) < 2 {
		return nil
	}
	out := make(map[int]float64)
	firstInYear := eq[0]
	lastInYear := eq[0]
	year := eq[0].Date.Year()
	for _, p := range eq[1:] {
		if p.Date.Year() != year {
			if firstInYear.Equity > 0 {
				out[year] = lastInYear.Equity/firstInYear.Equity - 1
			}
			year = p.Date.Year()
			firstInYear = lastInYear
		}
		lastInYear = p
	}
	if firstInYear.Equity > 0 {
		out[year] = lastInYear.Equity/firstInYear.Equity - 1
	}
	return out
}
