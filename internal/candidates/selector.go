// Package candidates turns daily OEE rankings into a championship: points
// by position, cumulative standings, a top pool, and a slope-of-standings
// trend filter that yields the buy-eligible list.
package candidates

import (
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/pkg/logger"
)

// DefaultPointsTable is the position-to-points award for the daily top 10.
var DefaultPointsTable = []int{25, 18, 15, 12, 10, 8, 6, 4, 2, 1}

// Slope windows in sessions. Slope60 drives the alive flag, Slope45 the
// eligibility rank.
const (
	slopeWindowShort = 30
	slopeWindowMid   = 45
	slopeWindowLong  = 60
)

// Params controls the championship.
type Params struct {
	PointsTable []int
	PoolSize    int
}

// DefaultParams returns the top-10 scoring with a 15-ticker pool.
func DefaultParams() Params {
	return Params{PointsTable: DefaultPointsTable, PoolSize: 15}
}

// Selector computes candidate rows from ranking history.
type Selector struct {
	params Params
	log    *logger.Logger
}

// NewSelector creates a Selector.
func NewSelector(params Params, log *logger.Logger) (*Selector, error) {
	if len(params.PointsTable) == 0 {
		return nil, &contracts.ConfigError{Field: "candidates.points_table", Reason: "must not be empty"}
	}
	for i := 1; i < len(params.PointsTable); i++ {
		if params.PointsTable[i] > params.PointsTable[i-1] {
			return nil, &contracts.ConfigError{Field: "candidates.points_table", Reason: "must be non-increasing"}
		}
	}
	if params.PoolSize < 1 {
		return nil, &contracts.ConfigError{Field: "candidates.pool_size", Reason: "must be >= 1"}
	}
	return &Selector{params: params, log: log}, nil
}

// Result holds candidate rows grouped by decision day.
type Result struct {
	Rows  []contracts.CandidateRow
	days  []time.Time
	byDay map[time.Time][]contracts.CandidateRow
}

// NewResult groups precomputed rows by decision day, for replaying stored
// candidates without re-running the selector.
func NewResult(rows []contracts.CandidateRow) *Result {
	res := &Result{Rows: rows, byDay: make(map[time.Time][]contracts.CandidateRow)}
	for _, row := range rows {
		d := calendar.Normalize(row.DecisionDate)
		if _, ok := res.byDay[d]; !ok {
			res.days = append(res.days, d)
		}
		res.byDay[d] = append(res.byDay[d], row)
	}
	sort.Slice(res.days, func(i, j int) bool { return res.days[i].Before(res.days[j]) })
	return res
}

// Days returns the ordered decision days.
func (r *Result) Days() []time.Time { return r.days }

// ForDay returns the candidate rows of one decision day.
func (r *Result) ForDay(d time.Time) []contracts.CandidateRow {
	return r.byDay[calendar.Normalize(d)]
}

// BuyList returns the day's eligible tickers ordered by rank_slope45.
func (r *Result) BuyList(d time.Time) []contracts.CandidateRow {
	var out []contracts.CandidateRow
	for _, row := range r.ForDay(d) {
		if row.Eligible() {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RankSlope45 < out[j].RankSlope45 })
	return out
}

// Run replays the championship across all decision days.
func (s *Selector) Run(rank *ranking.Result) (*Result, error) {
	res := &Result{byDay: make(map[time.Time][]contracts.CandidateRow)}

	// Cumulative points history per ticker, one entry per decision day.
	// Tickers appearing late are backfilled with zeros so every series is
	// aligned to the decision-day axis.
	history := make(map[string][]float64)
	totals := make(map[string]int)
	daysSeen := 0

	for _, day := range rank.Days() {
		rows := append([]contracts.RankingRow(nil), rank.ForDay(day)...)
		if len(rows) == 0 {
			continue
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].OEEOverall != rows[j].OEEOverall {
				return rows[i].OEEOverall > rows[j].OEEOverall
			}
			return rows[i].Ticker < rows[j].Ticker
		})

		points := s.awardPoints(rows)
		for tk, pts := range points {
			totals[tk] += pts
		}

		// Extend every known series with today's total.
		for _, row := range rows {
			if _, ok := history[row.Ticker]; !ok {
				history[row.Ticker] = make([]float64, daysSeen)
			}
		}
		for tk := range history {
			history[tk] = append(history[tk], float64(totals[tk]))
		}
		daysSeen++

		standings := standingsOf(totals)
		pool := s.poolOf(totals)

		type slopes struct{ s30, s45, s60 float64 }
		slopeByTicker := make(map[string]slopes, len(pool))
		for tk := range pool {
			h := history[tk]
			slopeByTicker[tk] = slopes{
				s30: trailingSlope(h, slopeWindowShort),
				s45: trailingSlope(h, slopeWindowMid),
				s60: trailingSlope(h, slopeWindowLong),
			}
		}

		// Rank alive pool tickers by slope_45 descending.
		var alive []string
		for tk, sl := range slopeByTicker {
			if sl.s60 > 0 {
				alive = append(alive, tk)
			}
		}
		sort.Slice(alive, func(i, j int) bool {
			si, sj := slopeByTicker[alive[i]].s45, slopeByTicker[alive[j]].s45
			if si != sj {
				return si > sj
			}
			return alive[i] < alive[j]
		})
		rankSlope45 := make(map[string]int, len(alive))
		for i, tk := range alive {
			rankSlope45[tk] = i + 1
		}

		dayRows := make([]contracts.CandidateRow, 0, len(rows))
		for _, row := range rows {
			tk := row.Ticker
			cr := contracts.CandidateRow{
				Ticker:       tk,
				DecisionDate: day,
				Points:       points[tk],
				PointsTotal:  totals[tk],
				Standing:     standings[tk],
			}
			if _, ok := pool[tk]; ok {
				sl := slopeByTicker[tk]
				cr.InPool = true
				cr.Slope30 = sl.s30
				cr.Slope45 = sl.s45
				cr.Slope60 = sl.s60
				cr.Alive = sl.s60 > 0
				cr.RankSlope45 = rankSlope45[tk]
			}
			dayRows = append(dayRows, cr)
		}

		res.days = append(res.days, day)
		res.byDay[day] = dayRows
		res.Rows = append(res.Rows, dayRows...)
	}

	s.log.WithFields(map[string]interface{}{
		"days": len(res.days),
		"rows": len(res.Rows),
	}).Info("championship selection complete")
	return res, nil
}

// awardPoints maps tickers to today's points. rows must be sorted by OEE
// descending. Ties at the cutoff score are all included and receive the
// cutoff position's points.
func (s *Selector) awardPoints(rows []contracts.RankingRow) map[string]int {
	table := s.params.PointsTable
	points := make(map[string]int, len(table))

	cutoffIdx := len(table) - 1
	if cutoffIdx >= len(rows) {
		cutoffIdx = len(rows) - 1
	}
	cutoffScore := rows[cutoffIdx].OEEOverall

	for i, row := range rows {
		switch {
		case i < len(table):
			points[row.Ticker] = table[i]
		case row.OEEOverall >= cutoffScore:
			points[row.Ticker] = table[len(table)-1]
		default:
			return points
		}
	}
	return points
}

// standingsOf assigns competition ("min") ranks by total points.
func standingsOf(totals map[string]int) map[string]int {
	out := make(map[string]int, len(totals))
	for tk, total := range totals {
		rank := 1
		for _, other := range totals {
			if other > total {
				rank++
			}
		}
		out[tk] = rank
	}
	return out
}

// poolOf returns the top PoolSize tickers by total points, cutoff ties
// included.
func (s *Selector) poolOf(totals map[string]int) map[string]struct{} {
	if len(totals) == 0 {
		return nil
	}
	tickers := make([]string, 0, len(totals))
	for tk := range totals {
		tickers = append(tickers, tk)
	}
	sort.Slice(tickers, func(i, j int) bool {
		if totals[tickers[i]] != totals[tickers[j]] {
			return totals[tickers[i]] > totals[tickers[j]]
		}
		return tickers[i] < tickers[j]
	})

	cutoffIdx := s.params.PoolSize - 1
	if cutoffIdx >= len(tickers) {
		cutoffIdx = len(tickers) - 1
	}
	cutoff := totals[tickers[cutoffIdx]]

	pool := make(map[string]struct{})
	for _, tk := range tickers {
		if totals[tk] < cutoff {
			break
		}
		pool[tk] = struct{}{}
	}
	return pool
}

// trailingSlope is the OLS slope of the last window values of series
// against 0..n-1. Returns 0 when fewer than two points or zero x-variance.
func trailingSlope(series []float64, window int) float64 {
	if window < len(series) {
		series = series[len(series)-window:]
	}
	n := len(series)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	var yMean float64
	for _, y := range series {
		yMean += y
	}
	yMean /= float64(n)

	var num, den float64
	for i, y := range series {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}
