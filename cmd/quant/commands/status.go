package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/database"
)

// statusCmd prints runtime configuration, database health and stored runs.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, database health and stored runs",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}

	fmt.Println("=== cepfolio status ===")
	fmt.Printf("Env:          %s\n", cfg.Env)
	fmt.Printf("Port:         %s\n", cfg.Port)
	fmt.Printf("Strategy:     %s\n", strategyPath)
	fmt.Printf("Price panel:  %s\n", cfg.Data.PricePanelPath)
	fmt.Printf("Signal panel: %s\n", cfg.Data.SignalPanelPath)
	fmt.Printf("Output dir:   %s\n", cfg.Data.OutputDir)

	if cfg.Database.URL == "" {
		fmt.Println("\nDatabase: not configured (DATABASE_URL empty)")
		return nil
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	health, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	fmt.Printf("\nDatabase: healthy, ping %s, conns %d/%d\n",
		health.ResponseTime, health.TotalConns, health.MaxConns)

	repo := store.NewRepository(db.Pool)
	runs, err := repo.GetRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No stored runs")
		return nil
	}

	log.WithField("runs", len(runs)).Debug("listing stored runs")
	fmt.Println(strings.Repeat("-", 92))
	fmt.Printf("%-18s %-22s %-14s %7s %9s %-20s\n",
		"run", "strategy", "policy", "window", "return", "created")
	fmt.Println(strings.Repeat("-", 92))
	for _, run := range runs {
		status := fmt.Sprintf("%8.2f%%", run.Metrics.TotalReturn*100)
		if run.Failed {
			status = "   FAILED"
		}
		fmt.Printf("%-18s %-22s %-14s %7d %9s %-20s\n",
			run.RunID, run.StrategyID, run.Policy, run.RegimeWindow,
			status, run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println(strings.Repeat("-", 92))
	return nil
}
