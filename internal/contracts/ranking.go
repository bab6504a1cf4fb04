package contracts

import "time"

// RankingRow holds the OEE decomposition of one (ticker, decision day).
// All statistics are causal: they use data through the prior session only.
// Owned by the ranking engine; read-only downstream.
type RankingRow struct {
	Ticker       string    `json:"ticker"`
	DecisionDate time.Time `json:"decision_date"`
	DataEndDate  time.Time `json:"data_end_date"`

	NLP int `json:"n_lp"`
	NCP int `json:"n_cp"`

	AvailabilityLP float64 `json:"availability_lp"`
	PerformanceLP  float64 `json:"performance_lp"`
	VariabilityLP  float64 `json:"variability_lp"` // NaN when undefined
	QualityLP      float64 `json:"quality_lp"`
	OEELP          float64 `json:"oee_lp"`

	AvailabilityCP float64 `json:"availability_cp"`
	PerformanceCP  float64 `json:"performance_cp"`
	VariabilityCP  float64 `json:"variability_cp"`
	QualityCP      float64 `json:"quality_cp"`
	OEECP          float64 `json:"oee_cp"`

	OEEOverall float64 `json:"oee_overall"`

	// EtaEnd/StateEnd carry the CEP state at the data-end session. The
	// portfolio buy gate keys off StateEnd, not a same-day state join.
	EtaEnd   int      `json:"eta_end"`
	StateEnd CepLabel `json:"state_end"`
}
