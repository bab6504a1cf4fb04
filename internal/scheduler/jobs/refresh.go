// Package jobs holds the scheduled job implementations.
package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/internal/strategyconfig"
	"github.com/wonny/cepfolio/pkg/config"
	"github.com/wonny/cepfolio/pkg/logger"
)

// SimulationRefresh reruns the full variant matrix against the latest
// panel files and replaces the stored results. Scheduled after the nightly
// data delivery.
type SimulationRefresh struct {
	dataCfg      config.DataConfig
	strategyPath string
	repo         *store.Repository
	logger       *logger.Logger
	schedule     string
}

// NewSimulationRefresh creates the refresh job. repo may be nil; results
// are then only exported to the output directory.
func NewSimulationRefresh(dataCfg config.DataConfig, strategyPath string, repo *store.Repository, log *logger.Logger) *SimulationRefresh {
	return &SimulationRefresh{
		dataCfg:      dataCfg,
		strategyPath: strategyPath,
		repo:         repo,
		logger:       log,
		// Weekday evenings, after the panel files are refreshed.
		schedule: "0 30 18 * * MON-FRI",
	}
}

// Name returns the job name.
func (j *SimulationRefresh) Name() string { return "simulation_refresh" }

// Schedule returns the cron expression.
func (j *SimulationRefresh) Schedule() string { return j.schedule }

// Run executes the refresh: load config and panels, run the matrix,
// persist and export every variant.
func (j *SimulationRefresh) Run(ctx context.Context) error {
	strategy, _, err := strategyconfig.Load(j.strategyPath)
	if err != nil {
		return fmt.Errorf("failed to load strategy config: %w", err)
	}
	for _, w := range strategyconfig.Warn(strategy) {
		j.logger.WithField("code", w.Code).Warn(w.Message)
	}
	configHash, err := strategyconfig.Hash(strategy)
	if err != nil {
		return fmt.Errorf("failed to hash strategy config: %w", err)
	}

	loader := marketdata.NewLoader(j.dataCfg, j.logger)
	inputs, err := backtest.LoadInputs(loader)
	if err != nil {
		return err
	}

	btCfg, err := strategy.BacktestConfig()
	if err != nil {
		return err
	}
	engine, err := backtest.NewEngine(inputs, btCfg, j.logger)
	if err != nil {
		return err
	}
	result, err := engine.Run(strategy.Specs())
	if err != nil {
		return fmt.Errorf("matrix run failed: %w", err)
	}

	if j.repo != nil {
		if err := j.repo.SaveBaselines(ctx, result.CEP.Baselines); err != nil {
			return err
		}
		if err := j.repo.SaveRankings(ctx, result.Ranking.Rows); err != nil {
			return err
		}
		if err := j.repo.SaveCandidates(ctx, result.Candidates.Rows); err != nil {
			return err
		}
	}

	exporter := store.NewExporter(j.dataCfg.OutputDir, j.logger)
	if err := exporter.ExportRankings(result.Ranking.Rows); err != nil {
		return err
	}
	if err := exporter.ExportCandidates(result.Candidates.Rows); err != nil {
		return err
	}

	failed := 0
	for _, run := range result.Runs {
		if run.Result == nil {
			failed++
			j.logger.WithError(run.Err).WithField("variant", run.Spec.Name).Error("variant produced no result")
			continue
		}
		if j.repo != nil {
			if err := j.repo.SaveRun(ctx, strategy.Meta.StrategyID, configHash, run); err != nil {
				return err
			}
		}
		if err := exporter.ExportRun(run); err != nil {
			return err
		}
		if run.Err != nil {
			failed++
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"variants": len(result.Runs),
		"failed":   failed,
		"hash":     configHash,
	}).Info("simulation refresh complete")
	return nil
}
