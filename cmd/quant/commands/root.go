// Package commands implements the quant CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	strategyPath string
	verbose      bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "Control-chart driven top-N portfolio simulator",
	Long: `cepfolio unified CLI

Daily-rebalanced equity simulation: X-bar/R control charts classify each
ticker's signal stream, OEE scores rank the in-control names, a points
championship picks the candidate pool, and the portfolio engine replays
entries, policy-driven exits and costs session by session.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant run
  go run ./cmd/quant baseline --ticker AAPL
  go run ./cmd/quant api
  go run ./cmd/quant scheduler`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategyPath, "strategy", "config/strategy/cepfolio_topn_v1.yaml", "strategy YAML path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
