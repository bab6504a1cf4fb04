package contracts

import "time"

// Holding is one open position as a sell policy sees it on decision day:
// the quantity plus its weight in the portfolio's reference equity. The
// weight breaks score ties so the largest losing exposure exits first.
type Holding struct {
	Ticker string  `json:"ticker"`
	Qty    int     `json:"qty"`
	Weight float64 `json:"weight"`
}

// SellOrder is a policy output: sell Pct percent of the holding, queued on
// the signal day and executed at the next session's close.
type SellOrder struct {
	Ticker string  `json:"ticker"`
	Pct    float64 `json:"pct"` // 0..100; >=100 sells everything
	Reason string  `json:"reason"`
	Score  int     `json:"score,omitempty"`
}

// SellDecision is the audit row for one policy candidate, including the
// ex-post oracle label used for evaluation only.
type SellDecision struct {
	Date   time.Time `json:"date"`
	Ticker string    `json:"ticker"`

	Score     int     `json:"score"`
	Z         float64 `json:"z"`
	Sigma     float64 `json:"sigma"`
	Pct       float64 `json:"pct"`
	Policy    string  `json:"policy"` // deterministic | bandit | stress
	Defensive bool    `json:"defensive"`

	// Ex-post fields, never visible to the decision itself.
	Oracle        bool    `json:"oracle"`
	WorstCumret3D float64 `json:"worst_cumret_3d"`
	Reward        float64 `json:"reward"`
}
