package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/database"
)

// runCmd executes the full variant matrix.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation matrix",
	Long: `Runs every (regime window x sell policy) variant of the strategy
against the configured panel files, prints a metrics summary, exports
CSV outputs and optionally persists results to PostgreSQL.

Example:
  go run ./cmd/quant run
  go run ./cmd/quant run --save
  go run ./cmd/quant run --from-db --save
  go run ./cmd/quant run --strategy config/strategy/cepfolio_topn_v1.yaml`,
	RunE: runMatrix,
}

var (
	runSave   bool
	runFromDB bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSave, "save", false, "persist results to PostgreSQL")
	runCmd.Flags().BoolVar(&runFromDB, "from-db", false, "load input panels from PostgreSQL instead of CSV files")
}

func runMatrix(cmd *cobra.Command, args []string) error {
	started := time.Now()
	fmt.Println("=== cepfolio simulation matrix ===")

	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}
	strategy, hash, err := loadStrategy(log)
	if err != nil {
		return err
	}
	fmt.Printf("Strategy: %s (hash %s)\n", strategy.Meta.StrategyID, hash[:12])

	var db *database.DB
	if runFromDB || runSave {
		db, err = database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
	}

	var engine *backtest.Engine
	if runFromDB {
		engine, err = buildEngineDB(cmd.Context(), db.Pool, strategy, log)
	} else {
		engine, err = buildEngine(cfg, strategy, log)
	}
	if err != nil {
		return err
	}

	result, err := engine.Run(strategy.Specs())
	if err != nil {
		return fmt.Errorf("matrix run failed: %w", err)
	}

	printMatrixResult(result)

	exporter := store.NewExporter(cfg.Data.OutputDir, log)
	if err := exporter.ExportRankings(result.Ranking.Rows); err != nil {
		return err
	}
	if err := exporter.ExportCandidates(result.Candidates.Rows); err != nil {
		return err
	}
	for _, run := range result.Runs {
		if run.Result == nil {
			continue
		}
		if err := exporter.ExportRun(run); err != nil {
			return err
		}
	}
	fmt.Printf("\nCSV outputs written to %s\n", cfg.Data.OutputDir)

	if runSave {
		repo := store.NewRepository(db.Pool)
		if err := persistMatrix(cmd.Context(), repo, strategy.Meta.StrategyID, hash, result); err != nil {
			return err
		}
		fmt.Println("Results saved to PostgreSQL")
	}

	fmt.Printf("\nDone in %.2fs\n", time.Since(started).Seconds())
	return nil
}

func persistMatrix(ctx context.Context, repo *store.Repository, strategyID, hash string, result *backtest.MatrixResult) error {
	if err := repo.SaveBaselines(ctx, result.CEP.Baselines); err != nil {
		return err
	}
	if err := repo.SaveRankings(ctx, result.Ranking.Rows); err != nil {
		return err
	}
	if err := repo.SaveCandidates(ctx, result.Candidates.Rows); err != nil {
		return err
	}
	for _, run := range result.Runs {
		if run.Result == nil {
			continue
		}
		if err := repo.SaveRun(ctx, strategyID, hash, run); err != nil {
			return err
		}
	}
	return nil
}

func printMatrixResult(result *backtest.MatrixResult) {
	fmt.Println()
	fmt.Printf("Decision days: %d, tickers ranked: %d\n",
		len(result.Ranking.Days()), len(result.CEP.Baselines))
	fmt.Println(strings.Repeat("-", 96))
	fmt.Printf("%-18s %12s %9s %9s %9s %8s %8s %7s\n",
		"variant", "final", "return", "cagr", "mdd", "var95", "turnover", "trades")
	fmt.Println(strings.Repeat("-", 96))

	for _, run := range result.Runs {
		if run.Result == nil {
			fmt.Printf("%-18s FAILED: %v\n", run.Spec.Name, run.Err)
			continue
		}
		m := run.Metrics
		status := ""
		if run.Err != nil {
			status = "  [aborted]"
		}
		fmt.Printf("%-18s %12.2f %8.2f%% %8.2f%% %8.2f%% %7.2f%% %8.2f %7d%s\n",
			run.Spec.Name, m.FinalEquity, m.TotalReturn*100, m.CAGR*100,
			m.MaxDrawdown*100, m.VaR95*100, m.TurnoverTotal, m.TradeCount, status)
	}
	fmt.Println(strings.Repeat("-", 96))
}
