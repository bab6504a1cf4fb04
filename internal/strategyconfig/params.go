package strategyconfig

import (
	"fmt"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/candidates"
	"github.com/wonny/cepfolio/internal/cep"
	"github.com/wonny/cepfolio/internal/portfolio"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/internal/sellpolicy"
)

// BacktestConfig maps the validated YAML onto the stage parameter structs.
// Call Validate (or Load) first; date fields are assumed parseable here.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	warmupEnd, err := parseDate(c.Chart.WarmupEnd)
	if err != nil {
		return backtest.Config{}, ValidationError{"chart.warmup_end", err.Error()}
	}
	warmupStart, err := parseDate(c.Ranking.WarmupStart)
	if err != nil {
		return backtest.Config{}, ValidationError{"ranking.warmup_start", err.Error()}
	}
	decisionStart, err := parseDate(c.Ranking.DecisionStart)
	if err != nil {
		return backtest.Config{}, ValidationError{"ranking.decision_start", err.Error()}
	}

	return backtest.Config{
		CEP: cep.Params{
			SubgroupSize: c.Chart.SubgroupSize,
			Subgroups:    c.Chart.Subgroups,
			A2:           c.Chart.A2,
			D3:           c.Chart.D3,
			D4:           c.Chart.D4,
			WarmupEnd:    warmupEnd,
			Buffer:       c.Chart.Buffer,
		},
		Ranking: ranking.Params{
			DecisionStart: decisionStart,
			WarmupStart:   warmupStart,
			CPWindow:      c.Ranking.CPWindow,
		},
		Candidates: candidates.Params{
			PointsTable: c.Championship.PointsTable,
			PoolSize:    c.Championship.PoolSize,
		},
		Portfolio: portfolio.Params{
			InitialCapital: c.Portfolio.InitialCapital,
			CostRate:       c.Portfolio.CostRate,
			TopN:           c.Portfolio.TopN,
			WInit:          c.Portfolio.WInit,
			WExisting:      c.Portfolio.WExisting,
			WNew:           c.Portfolio.WNew,
		},
		Policy: sellpolicy.Params{
			Lookback:        c.SellPolicy.Lookback,
			MinPeriods:      c.SellPolicy.MinPeriods,
			TopK:            c.SellPolicy.TopK,
			MinScore:        c.SellPolicy.MinScore,
			Epsilon:         c.SellPolicy.Epsilon,
			Actions:         c.SellPolicy.Actions,
			Prior:           c.SellPolicy.Prior,
			RewardDelay:     c.SellPolicy.RewardDelay,
			Horizon:         c.SellPolicy.Horizon,
			OracleSigmaMult: c.SellPolicy.OracleSigmaMult,
		},
	}, nil
}

// Specs expands the matrix grid into run specs. The stress baseline is
// window-independent, so it appears once regardless of the window list.
func (c *Config) Specs() []backtest.RunSpec {
	var specs []backtest.RunSpec
	for _, p := range c.Matrix.Policies {
		if p == "stress" {
			specs = append(specs, backtest.RunSpec{
				Name:         "stress_baseline",
				RegimeWindow: c.Matrix.RegimeWindows[0],
				Policy:       backtest.PolicyStress,
			})
			continue
		}
		for _, w := range c.Matrix.RegimeWindows {
			specs = append(specs, backtest.RunSpec{
				Name:         fmt.Sprintf("%s_w%d", p, w),
				RegimeWindow: w,
				Policy:       backtest.PolicyKind(p),
			})
		}
	}
	return specs
}
