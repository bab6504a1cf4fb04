package contracts

import "time"

// CandidateRow is the championship view of one (ticker, decision day):
// daily points, cumulative standing, pool membership and the slope trend
// filter. Derived deterministically from ranking history.
type CandidateRow struct {
	Ticker       string    `json:"ticker"`
	DecisionDate time.Time `json:"decision_date"`

	Points      int `json:"points"`
	PointsTotal int `json:"points_total"`
	Standing    int `json:"standing"` // min-rank over points_total, 1 = leader

	InPool bool `json:"in_pool"`

	Slope30 float64 `json:"slope_30"`
	Slope45 float64 `json:"slope_45"`
	Slope60 float64 `json:"slope_60"`

	Alive bool `json:"alive"` // slope_60 > 0

	// RankSlope45 orders alive pool tickers by slope_45 descending,
	// ticker ascending; 0 when not ranked.
	RankSlope45 int `json:"rank_slope45"`
}

// Eligible reports whether the row can enter the buy list (before the
// CEP in-control gate and top-N cut are applied).
func (c *CandidateRow) Eligible() bool {
	return c.InPool && c.Alive && c.RankSlope45 > 0
}
