// Package ranking computes the per-ticker, per-decision-day OEE score:
// Availability x Performance x Quality over a long-period and a
// current-period window, blended by relative window length. All statistics
// are causal; a decision day only sees data through the prior session.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

// StateSource supplies per-session CEP states and baselines. Satisfied by
// cep.Result.
type StateSource interface {
	EtaAt(ticker string, si int) int
	StateAt(ticker string, si int) contracts.CepLabel
	Baseline(ticker string) *contracts.BaselineLimits
}

// Params controls the ranking windows.
type Params struct {
	// DecisionStart is the first decision day; every session from there
	// to the calendar end gets a ranking.
	DecisionStart time.Time
	// WarmupStart bounds the long-period window from below.
	WarmupStart time.Time
	// CPWindow is the current-period length in sessions.
	CPWindow int
}

// Engine computes ranking rows from the signal panel and CEP states.
type Engine struct {
	signals *marketdata.Panel
	states  StateSource
	params  Params
	log     *logger.Logger
}

// NewEngine creates a ranking engine.
func NewEngine(signals *marketdata.Panel, states StateSource, params Params, log *logger.Logger) (*Engine, error) {
	if params.CPWindow < 1 {
		return nil, &contracts.ConfigError{Field: "ranking.cp_window", Reason: "must be >= 1"}
	}
	return &Engine{signals: signals, states: states, params: params, log: log}, nil
}

// Result holds all ranking rows grouped by decision day.
type Result struct {
	Rows  []contracts.RankingRow
	days  []time.Time
	byDay map[time.Time][]contracts.RankingRow
	state map[time.Time]map[string]contracts.CepLabel
}

// NewResult groups precomputed rows by decision day, for replaying stored
// rankings without re-running the engine.
func NewResult(rows []contracts.RankingRow) *Result {
	res := &Result{
		Rows:  rows,
		byDay: make(map[time.Time][]contracts.RankingRow),
		state: make(map[time.Time]map[string]contracts.CepLabel),
	}
	for _, row := range rows {
		d := calendar.Normalize(row.DecisionDate)
		if _, ok := res.byDay[d]; !ok {
			res.days = append(res.days, d)
			res.state[d] = make(map[string]contracts.CepLabel)
		}
		res.byDay[d] = append(res.byDay[d], row)
		res.state[d][row.Ticker] = row.StateEnd
	}
	sort.Slice(res.days, func(i, j int) bool { return res.days[i].Before(res.days[j]) })
	return res
}

// Days returns the ordered decision days.
func (r *Result) Days() []time.Time { return r.days }

// ForDay returns the rows of one decision day, ticker-ordered.
func (r *Result) ForDay(d time.Time) []contracts.RankingRow {
	return r.byDay[calendar.Normalize(d)]
}

// StateEnd returns the carried CEP state of ticker on decision day d.
func (r *Result) StateEnd(d time.Time, ticker string) contracts.CepLabel {
	if m, ok := r.state[calendar.Normalize(d)]; ok {
		if s, ok := m[ticker]; ok {
			return s
		}
	}
	return contracts.StateNone
}

// prefixes holds calendar-aligned cumulative sums for one ticker. Index i
// covers sessions [0, i); window sums are O(1) differences.
type prefixes struct {
	lpStart int
	eta     []float64 // sum of eta
	pos     []float64 // sum of eta * max(x, 0)
	abs     []float64 // sum of eta * |x|
	cnt     []float64 // active sessions (eta=1 and x finite)
	sum     []float64 // sum of active x
	sumSq   []float64 // sum of active x^2
}

// Run evaluates every (ticker, decision day).
func (e *Engine) Run() (*Result, error) {
	cal := e.signals.Calendar()

	startIdx := firstSessionAtOrAfter(cal, e.params.DecisionStart)
	if startIdx < 0 || startIdx >= cal.Len() {
		return nil, &contracts.ConfigError{Field: "ranking.decision_start", Reason: "no decision days in calendar"}
	}
	// data_end = prior session, so the first decision day needs one.
	if startIdx == 0 {
		startIdx = 1
	}

	warmupStartIdx := 0
	if !e.params.WarmupStart.IsZero() {
		if i := firstSessionAtOrAfter(cal, e.params.WarmupStart); i > 0 {
			warmupStartIdx = i
		}
	}

	pre := make(map[string]*prefixes)
	var tickers []string
	for _, tk := range e.signals.Tickers() {
		b := e.states.Baseline(tk)
		if b == nil || b.Insufficient {
			continue
		}
		ti := e.signals.TickerIndex(tk)
		first := e.signals.FirstObs(ti)
		if first < 0 {
			continue
		}
		lpStart := first
		if warmupStartIdx > lpStart {
			lpStart = warmupStartIdx
		}
		pre[tk] = e.buildPrefixes(tk, ti, lpStart)
		tickers = append(tickers, tk)
	}
	sort.Strings(tickers)

	res := &Result{
		byDay: make(map[time.Time][]contracts.RankingRow),
		state: make(map[time.Time]map[string]contracts.CepLabel),
	}

	for di := startIdx; di < cal.Len(); di++ {
		day := cal.At(di)
		dataEnd := di - 1

		type partial struct {
			row contracts.RankingRow
			vLP float64
			vCP float64
		}
		var parts []partial

		for _, tk := range tickers {
			p := pre[tk]
			if dataEnd < p.lpStart {
				continue
			}
			nLP := dataEnd - p.lpStart + 1
			nCP := e.params.CPWindow
			if nCP > nLP {
				nCP = nLP
			}
			cpStart := dataEnd - nCP + 1

			sigma := e.states.Baseline(tk).Sigma
			aLP, pLP, vLP := windowStats(p, p.lpStart, dataEnd, sigma)
			aCP, pCP, vCP := windowStats(p, cpStart, dataEnd, sigma)

			row := contracts.RankingRow{
				Ticker:         tk,
				DecisionDate:   day,
				DataEndDate:    cal.At(dataEnd),
				NLP:            nLP,
				NCP:            nCP,
				AvailabilityLP: aLP,
				PerformanceLP:  pLP,
				VariabilityLP:  vLP,
				AvailabilityCP: aCP,
				PerformanceCP:  pCP,
				VariabilityCP:  vCP,
				EtaEnd:         e.states.EtaAt(tk, dataEnd),
				StateEnd:       e.states.StateAt(tk, dataEnd),
			}
			parts = append(parts, partial{row: row, vLP: vLP, vCP: vCP})
		}

		if len(parts) == 0 {
			continue
		}

		vLPs := make([]float64, len(parts))
		vCPs := make([]float64, len(parts))
		for i := range parts {
			vLPs[i] = parts[i].vLP
			vCPs[i] = parts[i].vCP
		}
		qLP := qualityFromVariability(vLPs)
		qCP := qualityFromVariability(vCPs)

		rows := make([]contracts.RankingRow, len(parts))
		stateMap := make(map[string]contracts.CepLabel, len(parts))
		for i := range parts {
			row := parts[i].row
			row.QualityLP = qLP[i]
			row.QualityCP = qCP[i]
			row.OEELP = row.AvailabilityLP * row.PerformanceLP * row.QualityLP
			row.OEECP = row.AvailabilityCP * row.PerformanceCP * row.QualityCP
			wCP := float64(row.NCP) / float64(row.NLP)
			row.OEEOverall = (1-wCP)*row.OEELP + wCP*row.OEECP
			rows[i] = row
			stateMap[row.Ticker] = row.StateEnd
		}

		res.days = append(res.days, day)
		res.byDay[day] = rows
		res.state[day] = stateMap
		res.Rows = append(res.Rows, rows...)
	}

	if len(res.days) == 0 {
		return nil, &contracts.ConfigError{Field: "ranking", Reason: "no decision days produced any rows"}
	}

	e.log.WithFields(map[string]interface{}{
		"days":    len(res.days),
		"tickers": len(tickers),
		"rows":    len(res.Rows),
	}).Info("ranking complete")
	return res, nil
}

func (e *Engine) buildPrefixes(ticker string, ti, lpStart int) *prefixes {
	cal := e.signals.Calendar()
	n := cal.Len()
	row := e.signals.Series(ti)

	p := &prefixes{
		lpStart: lpStart,
		eta:     make([]float64, n+1),
		pos:     make([]float64, n+1),
		abs:     make([]float64, n+1),
		cnt:     make([]float64, n+1),
		sum:     make([]float64, n+1),
		sumSq:   make([]float64, n+1),
	}
	for si := 0; si < n; si++ {
		eta := float64(e.states.EtaAt(ticker, si))
		x := row[si]
		p.eta[si+1] = p.eta[si] + eta
		p.pos[si+1] = p.pos[si]
		p.abs[si+1] = p.abs[si]
		p.cnt[si+1] = p.cnt[si]
		p.sum[si+1] = p.sum[si]
		p.sumSq[si+1] = p.sumSq[si]
		if eta == 1 && !math.IsNaN(x) && !math.IsInf(x, 0) {
			if x > 0 {
				p.pos[si+1] += x
			}
			p.abs[si+1] += math.Abs(x)
			p.cnt[si+1]++
			p.sum[si+1] += x
			p.sumSq[si+1] += x * x
		}
	}
	return p
}

// windowStats computes Availability, Performance and Variability over the
// inclusive session window [from, to]. Variability falls back to the
// baseline sigma when fewer than two active sessions exist.
func windowStats(p *prefixes, from, to int, baselineSigma float64) (a, perf, v float64) {
	length := float64(to - from + 1)
	sumEta := p.eta[to+1] - p.eta[from]
	a = sumEta / length

	pos := p.pos[to+1] - p.pos[from]
	abs := p.abs[to+1] - p.abs[from]
	if abs > 0 {
		perf = pos / abs
	}

	cnt := p.cnt[to+1] - p.cnt[from]
	if cnt >= 2 {
		sum := p.sum[to+1] - p.sum[from]
		sumSq := p.sumSq[to+1] - p.sumSq[from]
		variance := (sumSq - sum*sum/cnt) / (cnt - 1)
		if variance < 0 {
			variance = 0
		}
		v = math.Sqrt(variance)
	} else {
		v = baselineSigma
	}
	return a, perf, v
}

// qualityFromVariability maps each variability to Q = 1 - percentile rank,
// using average ranks for ties over the finite values only. NaN maps to 0.
func qualityFromVariability(vs []float64) []float64 {
	type entry struct {
		idx int
		v   float64
	}
	finite := make([]entry, 0, len(vs))
	for i, v := range vs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, entry{idx: i, v: v})
		}
	}

	out := make([]float64, len(vs))
	if len(finite) == 0 {
		return out
	}
	sort.Slice(finite, func(i, j int) bool { return finite[i].v < finite[j].v })

	n := float64(len(finite))
	i := 0
	for i < len(finite) {
		j := i
		for j < len(finite) && finite[j].v == finite[i].v {
			j++
		}
		// Average rank of the tie group; ranks are 1-based.
		avgRank := float64(i+1+j) / 2.0
		q := 1 - avgRank/n
		for k := i; k < j; k++ {
			out[finite[k].idx] = q
		}
		i = j
	}
	return out
}

func firstSessionAtOrAfter(cal *calendar.SessionIndex, d time.Time) int {
	if d.IsZero() {
		return 0
	}
	if i := cal.Index(d); i >= 0 {
		return i
	}
	fi := cal.FloorIndex(d)
	return fi + 1
}
