// Package cep implements the X-bar/R control-chart classifier: per-ticker
// baseline limits from a fixed historical window, then a strictly
// backward-looking per-session state series.
package cep

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

// Params holds the control-chart parameters. Defaults reproduce the
// standard N=3 chart over a 62-observation window.
type Params struct {
	SubgroupSize int     // N
	Subgroups    int     // K
	A2           float64 // X-bar limit factor for N
	D3           float64 // R lower limit factor
	D4           float64 // R upper limit factor

	// WarmupEnd is the last session of the warm-up period. Tickers whose
	// first observation falls inside the warm-up get their baseline end
	// pulled Buffer sessions before WarmupEnd and become eligible at
	// WarmupEnd itself; later tickers anchor on their own history.
	WarmupEnd time.Time
	Buffer    int
}

// DefaultParams returns the N=3, K=60 chart constants.
func DefaultParams() Params {
	return Params{
		SubgroupSize: 3,
		Subgroups:    60,
		A2:           1.023,
		D3:           0,
		D4:           2.574,
		Buffer:       2,
	}
}

// WindowSize is the number of observations a baseline needs:
// K sliding subgroups of N values.
func (p Params) WindowSize() int {
	return p.Subgroups + p.SubgroupSize - 1
}

// Classifier computes baselines and state series from a signal panel.
type Classifier struct {
	params  Params
	signals *marketdata.Panel
	log     *logger.Logger
}

// NewClassifier creates a Classifier over the given signal panel.
func NewClassifier(signals *marketdata.Panel, params Params, log *logger.Logger) (*Classifier, error) {
	if params.SubgroupSize < 2 {
		return nil, &contracts.ConfigError{Field: "cep.subgroup_size", Reason: "must be >= 2"}
	}
	if params.Subgroups < 2 {
		return nil, &contracts.ConfigError{Field: "cep.subgroups", Reason: "must be >= 2"}
	}
	if params.Buffer < 0 {
		return nil, &contracts.ConfigError{Field: "cep.buffer", Reason: "must be >= 0"}
	}
	return &Classifier{params: params, signals: signals, log: log}, nil
}

type subgroupStat struct {
	mean float64
	rng  float64
}

// Result holds baselines and calendar-aligned state series for every ticker.
type Result struct {
	cal       *calendar.SessionIndex
	Baselines map[string]*contracts.BaselineLimits
	states    map[string][]contracts.CepLabel
	stats     map[string][]subgroupStat
}

// Baseline returns the baseline of ticker, or nil when unknown.
func (r *Result) Baseline(ticker string) *contracts.BaselineLimits {
	return r.Baselines[ticker]
}

// StateAt returns the state of ticker at session index si, or StateNone
// when the ticker has no classification there.
func (r *Result) StateAt(ticker string, si int) contracts.CepLabel {
	row, ok := r.states[ticker]
	if !ok || si < 0 || si >= len(row) || row[si] == "" {
		return contracts.StateNone
	}
	return row[si]
}

// EtaAt returns 1 iff ticker is IN_CONTROL at session index si.
func (r *Result) EtaAt(ticker string, si int) int {
	if r.StateAt(ticker, si) == contracts.StateInControl {
		return 1
	}
	return 0
}

// Rows flattens the state series into append-only output rows, ordered by
// ticker then session.
func (r *Result) Rows() []contracts.CepState {
	tickers := make([]string, 0, len(r.states))
	for t := range r.states {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var out []contracts.CepState
	for _, tk := range tickers {
		stats := r.stats[tk]
		for si, label := range r.states[tk] {
			if label == "" {
				continue
			}
			eta := 0
			if label == contracts.StateInControl {
				eta = 1
			}
			out = append(out, contracts.CepState{
				Ticker:        tk,
				Date:          r.cal.At(si),
				SubgroupMean:  stats[si].mean,
				SubgroupRange: stats[si].rng,
				State:         label,
				Eta:           eta,
			})
		}
	}
	return out
}

// Run builds baselines and classifies every ticker.
func (c *Classifier) Run() (*Result, error) {
	res := &Result{
		cal:       c.signals.Calendar(),
		Baselines: make(map[string]*contracts.BaselineLimits),
		states:    make(map[string][]contracts.CepLabel),
		stats:     make(map[string][]subgroupStat),
	}

	for _, ticker := range c.signals.Tickers() {
		ti := c.signals.TickerIndex(ticker)
		baseline := c.buildBaseline(ticker, ti)
		res.Baselines[ticker] = baseline
		if baseline.Insufficient {
			c.log.WithField("ticker", ticker).Debug("insufficient baseline history, ticker ineligible")
			continue
		}
		labels, stats := c.classifyForward(ti, baseline)
		res.states[ticker] = labels
		res.stats[ticker] = stats
	}

	c.log.WithFields(map[string]interface{}{
		"tickers":    len(res.Baselines),
		"classified": len(res.states),
	}).Info("control-chart classification complete")
	return res, nil
}

// classifyForward walks from the eligible session to the calendar end,
// labelling every session whose trailing subgroup is complete.
func (c *Classifier) classifyForward(ti int, b *contracts.BaselineLimits) ([]contracts.CepLabel, []subgroupStat) {
	cal := c.signals.Calendar()
	n := c.params.SubgroupSize
	row := c.signals.Series(ti)

	labels := make([]contracts.CepLabel, cal.Len())
	stats := make([]subgroupStat, cal.Len())

	start := cal.Index(b.EligibleFrom)
	if start < 0 {
		return labels, stats
	}

	for si := start; si < cal.Len(); si++ {
		if si-n+1 < 0 {
			continue
		}
		sub := row[si-n+1 : si+1]
		if !allFinite(sub) {
			continue
		}
		mean, rng := meanRange(sub)
		label := contracts.StateInControl
		switch {
		case mean < b.LCLXbar || mean > b.UCLXbar:
			label = contracts.StateOutOfControlLevel
		case rng > b.UCLRange:
			label = contracts.StateOutOfControlVar
		}
		labels[si] = label
		stats[si] = subgroupStat{mean: mean, rng: rng}
	}
	return labels, stats
}

func allFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func meanRange(vals []float64) (float64, float64) {
	sum, lo, hi := 0.0, vals[0], vals[0]
	for _, v := range vals {
		sum += v
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return sum / float64(len(vals)), hi - lo
}
