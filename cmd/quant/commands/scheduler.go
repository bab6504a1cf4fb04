package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/cepfolio/internal/scheduler"
	"github.com/wonny/cepfolio/internal/scheduler/jobs"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/database"
)

// schedulerCmd runs the cron loop with the nightly refresh job.
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the recurring simulation refresh",
	Long: `Starts the cron loop. The simulation refresh job reruns the variant
matrix on weekday evenings after new panel files land, replacing stored
results and CSV exports. Without DATABASE_URL results are only exported.

Example:
  go run ./cmd/quant scheduler
  go run ./cmd/quant scheduler --now`,
	RunE: runScheduler,
}

var schedulerNow bool

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.Flags().BoolVar(&schedulerNow, "now", false, "trigger the refresh immediately on startup")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}

	var repo *store.Repository
	if cfg.Database.URL != "" {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		repo = store.NewRepository(db.Pool)
		log.Info("Database connection established")
	} else {
		log.Warn("DATABASE_URL not set; refresh results will only be exported to CSV")
	}

	s := scheduler.New(log)
	refresh := jobs.NewSimulationRefresh(cfg.Data, strategyPath, repo, log)
	if err := s.AddJob(refresh); err != nil {
		return err
	}

	s.Start()
	fmt.Printf("Scheduler running, jobs: %v\n", s.Jobs())

	if schedulerNow {
		if err := s.RunJob(refresh.Name()); err != nil {
			return err
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	s.Stop()
	return nil
}
