package strategyconfig

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ValidationError is a fatal configuration defect.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning flags a legal but questionable setting.
type Warning struct {
	Code    string
	Message string
}

// Validate checks every hard constraint. Any error aborts the run.
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	// === Chart ===
	if cfg.Chart.SubgroupSize < 2 {
		return ValidationError{"chart.subgroup_size", "must be >= 2"}
	}
	if cfg.Chart.Subgroups < 2 {
		return ValidationError{"chart.subgroups", "must be >= 2"}
	}
	if cfg.Chart.A2 <= 0 {
		return ValidationError{"chart.a2", "must be > 0"}
	}
	if cfg.Chart.D3 < 0 || cfg.Chart.D4 <= cfg.Chart.D3 {
		return ValidationError{"chart", "must satisfy 0 <= d3 < d4"}
	}
	if cfg.Chart.Buffer < 0 {
		return ValidationError{"chart.buffer", "must be >= 0"}
	}
	warmupEnd, err := parseDate(cfg.Chart.WarmupEnd)
	if err != nil {
		return ValidationError{"chart.warmup_end", err.Error()}
	}

	// === Ranking ===
	warmupStart, err := parseDate(cfg.Ranking.WarmupStart)
	if err != nil {
		return ValidationError{"ranking.warmup_start", err.Error()}
	}
	decisionStart, err := parseDate(cfg.Ranking.DecisionStart)
	if err != nil {
		return ValidationError{"ranking.decision_start", err.Error()}
	}
	if !warmupStart.Before(decisionStart) {
		return ValidationError{"ranking", "warmup_start must be before decision_start"}
	}
	if decisionStart.Before(warmupEnd) {
		return ValidationError{"ranking.decision_start", "must not precede chart.warmup_end"}
	}
	if cfg.Ranking.CPWindow < 1 {
		return ValidationError{"ranking.cp_window", "must be >= 1"}
	}

	// === Championship ===
	if len(cfg.Championship.PointsTable) == 0 {
		return ValidationError{"championship.points_table", "required"}
	}
	for i := 1; i < len(cfg.Championship.PointsTable); i++ {
		if cfg.Championship.PointsTable[i] > cfg.Championship.PointsTable[i-1] {
			return ValidationError{"championship.points_table", "must be non-increasing"}
		}
	}
	if cfg.Championship.PoolSize < 1 {
		return ValidationError{"championship.pool_size", "must be >= 1"}
	}

	// === Portfolio ===
	if cfg.Portfolio.InitialCapital <= 0 {
		return ValidationError{"portfolio.initial_capital", "must be > 0"}
	}
	if cfg.Portfolio.CostRate < 0 {
		return ValidationError{"portfolio.cost_rate", "must be >= 0"}
	}
	if cfg.Portfolio.TopN < 1 {
		return ValidationError{"portfolio.top_n", "must be >= 1"}
	}
	if err := validateWeight(cfg.Portfolio.WInit, "portfolio.w_init"); err != nil {
		return err
	}
	if err := validateWeight(cfg.Portfolio.WExisting, "portfolio.w_existing"); err != nil {
		return err
	}
	if err := validateWeight(cfg.Portfolio.WNew, "portfolio.w_new"); err != nil {
		return err
	}
	if cfg.Portfolio.WNew > cfg.Portfolio.WExisting {
		return ValidationError{"portfolio", "w_new must be <= w_existing"}
	}

	// === SellPolicy ===
	sp := cfg.SellPolicy
	if sp.Lookback < 2 {
		return ValidationError{"sell_policy.lookback", "must be >= 2"}
	}
	if sp.MinPeriods < 2 || sp.MinPeriods > sp.Lookback {
		return ValidationError{"sell_policy.min_periods", "must be in [2, lookback]"}
	}
	if sp.TopK < 1 {
		return ValidationError{"sell_policy.top_k", "must be >= 1"}
	}
	if sp.Epsilon < 0 || sp.Epsilon > 1 {
		return ValidationError{"sell_policy.epsilon", "must be in [0, 1]"}
	}
	if len(sp.Actions) == 0 {
		return ValidationError{"sell_policy.actions", "required"}
	}
	for i, a := range sp.Actions {
		if a < 0 || a > 100 {
			return ValidationError{fmt.Sprintf("sell_policy.actions[%d]", i), "must be in [0, 100]"}
		}
		if i > 0 && a <= sp.Actions[i-1] {
			return ValidationError{"sell_policy.actions", "must be strictly ascending"}
		}
	}
	if sp.RewardDelay < 1 {
		return ValidationError{"sell_policy.reward_delay", "must be >= 1"}
	}
	if sp.Horizon < 1 {
		return ValidationError{"sell_policy.horizon", "must be >= 1"}
	}
	if sp.OracleSigmaMult <= 0 {
		return ValidationError{"sell_policy.oracle_sigma_mult", "must be > 0"}
	}

	// === Matrix ===
	if len(cfg.Matrix.RegimeWindows) == 0 {
		return ValidationError{"matrix.regime_windows", "required"}
	}
	for i, w := range cfg.Matrix.RegimeWindows {
		if w < 2 {
			return ValidationError{fmt.Sprintf("matrix.regime_windows[%d]", i), "must be >= 2"}
		}
	}
	if len(cfg.Matrix.Policies) == 0 {
		return ValidationError{"matrix.policies", "required"}
	}
	for i, p := range cfg.Matrix.Policies {
		switch p {
		case "stress", "deterministic", "bandit":
		default:
			return ValidationError{fmt.Sprintf("matrix.policies[%d]", i), "must be stress, deterministic or bandit"}
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal).
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	if cfg.Portfolio.CostRate == 0 {
		warnings = append(warnings, Warning{
			Code:    "ZERO_COST",
			Message: "cost_rate=0 assumes frictionless fills; results will overstate net returns",
		})
	}
	if cfg.SellPolicy.Epsilon > 0.5 {
		warnings = append(warnings, Warning{
			Code:    "HIGH_EXPLORATION",
			Message: fmt.Sprintf("epsilon=%.2f explores more than it exploits", cfg.SellPolicy.Epsilon),
		})
	}
	if cfg.Portfolio.TopN > cfg.Championship.PoolSize {
		warnings = append(warnings, Warning{
			Code:    "TOPN_EXCEEDS_POOL",
			Message: fmt.Sprintf("top_n=%d exceeds pool_size=%d; the extra slots can never fill", cfg.Portfolio.TopN, cfg.Championship.PoolSize),
		})
	}
	if cfg.SellPolicy.RewardDelay < cfg.SellPolicy.Horizon {
		warnings = append(warnings, Warning{
			Code:    "EARLY_REWARD",
			Message: "reward_delay < horizon releases bandit feedback before the oracle window closes",
		})
	}

	return warnings
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("required, format YYYY-MM-DD")
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}

func validateWeight(w float64, field string) error {
	if w <= 0 || w > 1 {
		return ValidationError{field, "must be in (0, 1]"}
	}
	return nil
}
