package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/cepfolio/internal/api"
	"github.com/wonny/cepfolio/internal/api/handlers"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/database"
)

// apiCmd serves stored results over HTTP.
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the read-only results API server",
	Long: `Serves persisted simulation results over HTTP. Requires DATABASE_URL;
runs are produced by the CLI and scheduler, never through the API.

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8095`,
	RunE: runAPI,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().StringVar(&apiPort, "port", "", "listen port (overrides PORT)")
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Database connection established")

	repo := store.NewRepository(db.Pool)
	results := handlers.NewResultsHandler(repo, log)
	router := api.NewRouter(results, cfg.API, log)
	server := api.New(cfg, log, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
