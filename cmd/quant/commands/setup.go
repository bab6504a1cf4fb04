package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/candidates"
	"github.com/wonny/cepfolio/internal/cep"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/internal/strategyconfig"
	"github.com/wonny/cepfolio/pkg/config"
	"github.com/wonny/cepfolio/pkg/logger"
)

// initRuntime loads the environment config and builds the logger.
func initRuntime() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)
	return cfg, log, nil
}

// loadStrategy reads and validates the strategy YAML, logging any
// recommendation warnings.
func loadStrategy(log *logger.Logger) (*strategyconfig.Config, string, error) {
	strategy, _, err := strategyconfig.Load(strategyPath)
	if err != nil {
		return nil, "", fmt.Errorf("load strategy %s: %w", strategyPath, err)
	}
	for _, w := range strategyconfig.Warn(strategy) {
		log.WithField("code", w.Code).Warn(w.Message)
	}
	hash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return nil, "", fmt.Errorf("hash strategy: %w", err)
	}
	return strategy, hash, nil
}

// buildEngine loads the panel files and assembles the backtest engine.
func buildEngine(cfg *config.Config, strategy *strategyconfig.Config, log *logger.Logger) (*backtest.Engine, error) {
	loader := marketdata.NewLoader(cfg.Data, log)
	inputs, err := backtest.LoadInputs(loader)
	if err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}

	btCfg, err := strategy.BacktestConfig()
	if err != nil {
		return nil, err
	}
	return backtest.NewEngine(inputs, btCfg, log)
}

// buildEngineDB assembles the backtest engine from panels stored in the
// marketdata schema instead of CSV files.
func buildEngineDB(ctx context.Context, pool *pgxpool.Pool, strategy *strategyconfig.Config, log *logger.Logger) (*backtest.Engine, error) {
	repo := marketdata.NewRepository(pool)
	inputs, err := backtest.LoadInputsDB(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("load inputs from database: %w", err)
	}

	btCfg, err := strategy.BacktestConfig()
	if err != nil {
		return nil, err
	}
	return backtest.NewEngine(inputs, btCfg, log)
}

// runStages executes the shared classification, ranking and championship
// stages without touching the portfolio engine. Used by the inspection
// commands that only look at stage outputs.
func runStages(cfg *config.Config, strategy *strategyconfig.Config, log *logger.Logger) (*cep.Result, *ranking.Result, *candidates.Result, error) {
	loader := marketdata.NewLoader(cfg.Data, log)
	inputs, err := backtest.LoadInputs(loader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load inputs: %w", err)
	}
	btCfg, err := strategy.BacktestConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	classifier, err := cep.NewClassifier(inputs.Signals, btCfg.CEP, log)
	if err != nil {
		return nil, nil, nil, err
	}
	states, err := classifier.Run()
	if err != nil {
		return nil, nil, nil, err
	}

	rankEngine, err := ranking.NewEngine(inputs.Signals, states, btCfg.Ranking, log)
	if err != nil {
		return nil, nil, nil, err
	}
	rankRes, err := rankEngine.Run()
	if err != nil {
		return nil, nil, nil, err
	}

	selector, err := candidates.NewSelector(btCfg.Candidates, log)
	if err != nil {
		return nil, nil, nil, err
	}
	candRes, err := selector.Run(rankRes)
	if err != nil {
		return nil, nil, nil, err
	}
	return states, rankRes, candRes, nil
}

// resolveDay parses --date or falls back to the last decision day.
func resolveDay(flag string, days []time.Time) (time.Time, error) {
	if flag == "" {
		if len(days) == 0 {
			return time.Time{}, fmt.Errorf("no decision days produced; check warmup and decision start dates")
		}
		return days[len(days)-1], nil
	}
	d, err := time.Parse("2006-01-02", flag)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD", flag)
	}
	return d, nil
}
