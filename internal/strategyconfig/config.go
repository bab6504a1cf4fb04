// Package strategyconfig is the single source of truth for simulation
// parameters. The YAML file is decoded strictly, validated before any run,
// and hashed so every stored result can be traced to the exact settings
// that produced it.
package strategyconfig

import "time"

// Config is the full simulation configuration.
type Config struct {
	Meta         Meta         `yaml:"meta" json:"meta"`
	Chart        Chart        `yaml:"chart" json:"chart"`
	Ranking      Ranking      `yaml:"ranking" json:"ranking"`
	Championship Championship `yaml:"championship" json:"championship"`
	Portfolio    Portfolio    `yaml:"portfolio" json:"portfolio"`
	SellPolicy   SellPolicy   `yaml:"sell_policy" json:"sell_policy"`
	Matrix       Matrix       `yaml:"matrix" json:"matrix"`
}

// Meta identifies the strategy.
type Meta struct {
	StrategyID string `yaml:"strategy_id" json:"strategy_id"`
	Version    string `yaml:"version" json:"version"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

// Chart holds the X-bar/R control chart constants. Dates are YYYY-MM-DD.
type Chart struct {
	SubgroupSize int     `yaml:"subgroup_size" json:"subgroup_size"`
	Subgroups    int     `yaml:"subgroups" json:"subgroups"`
	A2           float64 `yaml:"a2" json:"a2"`
	D3           float64 `yaml:"d3" json:"d3"`
	D4           float64 `yaml:"d4" json:"d4"`
	WarmupEnd    string  `yaml:"warmup_end" json:"warmup_end"`
	Buffer       int     `yaml:"buffer" json:"buffer"`
}

// Ranking bounds the effectiveness windows.
type Ranking struct {
	WarmupStart   string `yaml:"warmup_start" json:"warmup_start"`
	DecisionStart string `yaml:"decision_start" json:"decision_start"`
	CPWindow      int    `yaml:"cp_window" json:"cp_window"`
}

// Championship controls daily points and the candidate pool.
type Championship struct {
	PointsTable []int `yaml:"points_table" json:"points_table"`
	PoolSize    int   `yaml:"pool_size" json:"pool_size"`
}

// Portfolio holds capital, costs and sizing weights.
type Portfolio struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	CostRate       float64 `yaml:"cost_rate" json:"cost_rate"`
	TopN           int     `yaml:"top_n" json:"top_n"`
	WInit          float64 `yaml:"w_init" json:"w_init"`
	WExisting      float64 `yaml:"w_existing" json:"w_existing"`
	WNew           float64 `yaml:"w_new" json:"w_new"`
}

// SellPolicy holds scoring thresholds and bandit settings shared by every
// matrix variant.
type SellPolicy struct {
	Lookback   int `yaml:"lookback" json:"lookback"`
	MinPeriods int `yaml:"min_periods" json:"min_periods"`
	TopK       int `yaml:"top_k" json:"top_k"`
	MinScore   int `yaml:"min_score" json:"min_score"`

	Epsilon float64   `yaml:"epsilon" json:"epsilon"`
	Actions []float64 `yaml:"actions" json:"actions"`
	Prior   float64   `yaml:"prior" json:"prior"`

	RewardDelay     int     `yaml:"reward_delay" json:"reward_delay"`
	Horizon         int     `yaml:"horizon" json:"horizon"`
	OracleSigmaMult float64 `yaml:"oracle_sigma_mult" json:"oracle_sigma_mult"`
}

// Matrix enumerates the variant grid: every policy at every regime window,
// plus the policy-free stress baseline when "stress" is listed.
type Matrix struct {
	RegimeWindows []int    `yaml:"regime_windows" json:"regime_windows"`
	Policies      []string `yaml:"policies" json:"policies"`
}

// DecisionSnapshot pins a run to its exact configuration for audit.
type DecisionSnapshot struct {
	ConfigHash     string    `json:"config_hash"`
	ConfigYAML     string    `json:"config_yaml"`
	StrategyID     string    `json:"strategy_id"`
	GitCommit      string    `json:"git_commit"`
	DataSnapshotID string    `json:"data_snapshot_id"`
	CreatedAt      time.Time `json:"created_at"`
}
