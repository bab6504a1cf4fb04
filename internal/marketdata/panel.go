// Package marketdata loads and aligns the read-only input series: price and
// signal panels, the risk-free series, corporate actions and rule flags.
// Everything is loaded once upfront; the simulation loop does no I/O.
package marketdata

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
)

// Observation is one (date, ticker, value) input row.
type Observation struct {
	Date   time.Time
	Ticker string
	Value  float64
}

// Panel is a dense ticker-by-session matrix aligned to a SessionIndex.
// Missing cells are NaN. Tickers map to fixed row indices so per-run state
// can live in flat arrays instead of nested maps.
type Panel struct {
	cal     *calendar.SessionIndex
	tickers []string
	index   map[string]int
	values  [][]float64
}

// NewPanel aligns observations onto the calendar. Observations on
// non-session dates are dropped; later duplicates overwrite earlier ones.
func NewPanel(cal *calendar.SessionIndex, obs []Observation) *Panel {
	seen := make(map[string]struct{})
	for _, o := range obs {
		seen[o.Ticker] = struct{}{}
	}
	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	index := make(map[string]int, len(tickers))
	for i, t := range tickers {
		index[t] = i
	}

	values := make([][]float64, len(tickers))
	for i := range values {
		row := make([]float64, cal.Len())
		for j := range row {
			row[j] = math.NaN()
		}
		values[i] = row
	}

	for _, o := range obs {
		si := cal.Index(o.Date)
		if si < 0 {
			continue
		}
		values[index[o.Ticker]][si] = o.Value
	}

	return &Panel{cal: cal, tickers: tickers, index: index, values: values}
}

// Calendar returns the session index the panel is aligned to.
func (p *Panel) Calendar() *calendar.SessionIndex { return p.cal }

// Tickers returns the ordered ticker universe.
func (p *Panel) Tickers() []string { return p.tickers }

// TickerIndex returns the row index of ticker, or -1 when absent.
func (p *Panel) TickerIndex(ticker string) int {
	if i, ok := p.index[ticker]; ok {
		return i
	}
	return -1
}

// At returns the cell at (ticker row ti, session si). NaN when missing.
func (p *Panel) At(ti, si int) float64 { return p.values[ti][si] }

// Value looks up by ticker and date. NaN when absent.
func (p *Panel) Value(ticker string, d time.Time) float64 {
	ti := p.TickerIndex(ticker)
	si := p.cal.Index(d)
	if ti < 0 || si < 0 {
		return math.NaN()
	}
	return p.values[ti][si]
}

// Series returns ticker row ti. Callers must not mutate it.
func (p *Panel) Series(ti int) []float64 { return p.values[ti] }

// FirstObs returns the first session index with a finite value for row ti,
// or -1 when the row is empty.
func (p *Panel) FirstObs(ti int) int {
	for si, v := range p.values[ti] {
		if !math.IsNaN(v) {
			return si
		}
	}
	return -1
}

// ForwardFill carries each ticker's last observed value forward across
// missing sessions. Leading gaps stay NaN.
func (p *Panel) ForwardFill() {
	for _, row := range p.values {
		last := math.NaN()
		for si, v := range row {
			if math.IsNaN(v) {
				row[si] = last
			} else {
				last = v
			}
		}
	}
}

// LogReturns derives a per-ticker log-return panel: ln(v[t]/v[t-1]) between
// consecutive finite observations. The first observation has no return.
func (p *Panel) LogReturns() *Panel {
	out := &Panel{
		cal:     p.cal,
		tickers: p.tickers,
		index:   p.index,
		values:  make([][]float64, len(p.values)),
	}
	for ti, row := range p.values {
		ret := make([]float64, len(row))
		prev := math.NaN()
		for si, v := range row {
			if !math.IsNaN(v) && !math.IsNaN(prev) && prev > 0 && v > 0 {
				ret[si] = math.Log(v / prev)
			} else {
				ret[si] = math.NaN()
			}
			if !math.IsNaN(v) {
				prev = v
			}
		}
		out.values[ti] = ret
	}
	return out
}
