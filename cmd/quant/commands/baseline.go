package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// baselineCmd prints the frozen control limits per ticker.
var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Show frozen X-bar/R control limits",
	Long: `Runs the classifier over the signal panel and prints the control
limits frozen at the end of each ticker's baseline window.

Example:
  go run ./cmd/quant baseline
  go run ./cmd/quant baseline --ticker AAPL`,
	RunE: runBaseline,
}

var baselineTicker string

func init() {
	rootCmd.AddCommand(baselineCmd)
	baselineCmd.Flags().StringVar(&baselineTicker, "ticker", "", "show only one ticker")
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}
	strategy, _, err := loadStrategy(log)
	if err != nil {
		return err
	}

	states, _, _, err := runStages(cfg, strategy, log)
	if err != nil {
		return err
	}

	tickers := make([]string, 0, len(states.Baselines))
	for t := range states.Baselines {
		if baselineTicker != "" && t != baselineTicker {
			continue
		}
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	if len(tickers) == 0 {
		return fmt.Errorf("no baseline for ticker %q", baselineTicker)
	}

	fmt.Println(strings.Repeat("-", 104))
	fmt.Printf("%-8s %-12s %-12s %10s %10s %10s %10s %10s %10s\n",
		"ticker", "base_end", "eligible", "xbarbar", "rbar", "lcl_x", "ucl_x", "ucl_r", "sigma")
	fmt.Println(strings.Repeat("-", 104))
	for _, t := range tickers {
		b := states.Baselines[t]
		if b.Insufficient {
			fmt.Printf("%-8s insufficient baseline window\n", t)
			continue
		}
		fmt.Printf("%-8s %-12s %-12s %10.4f %10.4f %10.4f %10.4f %10.4f %10.4f\n",
			t, b.BaselineEnd.Format("2006-01-02"), b.EligibleFrom.Format("2006-01-02"),
			b.GrandMean, b.MeanRange, b.LCLXbar, b.UCLXbar, b.UCLRange, b.Sigma)
	}
	fmt.Println(strings.Repeat("-", 104))
	fmt.Printf("%d tickers\n", len(tickers))
	return nil
}
