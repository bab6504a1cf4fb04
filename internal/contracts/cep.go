package contracts

import "time"

// CepLabel is the control-chart classification of one (ticker, session).
type CepLabel string

const (
	StateInControl         CepLabel = "IN_CONTROL"
	StateOutOfControlLevel CepLabel = "OUT_OF_CONTROL_LEVEL"
	StateOutOfControlVar   CepLabel = "OUT_OF_CONTROL_VAR"
	// StateNone is carried on ranking rows when no CEP state exists yet
	// for the data-end session.
	StateNone CepLabel = "NO_STATE"
)

// InControl reports whether the label counts as eta=1.
func (l CepLabel) InControl() bool {
	return l == StateInControl
}

// BaselineLimits holds the X-bar/R baseline of one ticker. Immutable after
// creation; recomputed only by re-running the classifier with new data.
type BaselineLimits struct {
	Ticker        string    `json:"ticker"`
	BaselineStart time.Time `json:"baseline_start"`
	BaselineEnd   time.Time `json:"baseline_end"`
	EligibleFrom  time.Time `json:"eligible_from"`

	GrandMean float64 `json:"grand_mean"` // x double-bar
	MeanRange float64 `json:"mean_range"` // R-bar
	LCLXbar   float64 `json:"lcl_xbar"`
	UCLXbar   float64 `json:"ucl_xbar"`
	LCLRange  float64 `json:"lcl_range"`
	UCLRange  float64 `json:"ucl_range"`
	Sigma     float64 `json:"sigma"` // sample stdev of the baseline window

	// Insufficient marks a ticker whose baseline window was short or had
	// gaps. The ticker is never classified and never becomes eligible.
	Insufficient bool `json:"insufficient"`
}

// CepState is one append-only classification row, produced strictly forward
// from EligibleFrom.
type CepState struct {
	Ticker        string    `json:"ticker"`
	Date          time.Time `json:"date"`
	SubgroupMean  float64   `json:"subgroup_mean"`
	SubgroupRange float64   `json:"subgroup_range"`
	State         CepLabel  `json:"state"`
	Eta           int       `json:"eta"` // 1 iff IN_CONTROL
}
