package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// candidatesCmd prints the championship standings and buy list of one
// decision day.
var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Show championship pool and buy list for a decision day",
	Long: `Runs the full stage pipeline and prints the points standings, the
candidate pool membership and the resulting buy list of one decision day.

Example:
  go run ./cmd/quant candidates
  go run ./cmd/quant candidates --date 2024-03-15`,
	RunE: runCandidates,
}

var candidatesDate string

func init() {
	rootCmd.AddCommand(candidatesCmd)
	candidatesCmd.Flags().StringVar(&candidatesDate, "date", "", "decision day (YYYY-MM-DD, default: last)")
}

func runCandidates(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}
	strategy, _, err := loadStrategy(log)
	if err != nil {
		return err
	}

	_, _, candRes, err := runStages(cfg, strategy, log)
	if err != nil {
		return err
	}

	day, err := resolveDay(candidatesDate, candRes.Days())
	if err != nil {
		return err
	}
	rows := candRes.ForDay(day)
	if len(rows) == 0 {
		return fmt.Errorf("no candidate rows for %s", day.Format("2006-01-02"))
	}

	fmt.Printf("Decision day %s\n", day.Format("2006-01-02"))
	fmt.Println(strings.Repeat("-", 86))
	fmt.Printf("%4s %-8s %7s %7s %6s %6s %10s %10s %10s %6s\n",
		"#", "ticker", "points", "total", "pool", "alive", "slope30", "slope45", "slope60", "rank45")
	fmt.Println(strings.Repeat("-", 86))
	for _, row := range rows {
		fmt.Printf("%4d %-8s %7d %7d %6v %6v %10.5f %10.5f %10.5f %6d\n",
			row.Standing, row.Ticker, row.Points, row.PointsTotal,
			row.InPool, row.Alive, row.Slope30, row.Slope45, row.Slope60, row.RankSlope45)
	}
	fmt.Println(strings.Repeat("-", 86))

	buys := candRes.BuyList(day)
	if len(buys) == 0 {
		fmt.Println("Buy list: empty")
		return nil
	}
	names := make([]string, len(buys))
	for i, row := range buys {
		names[i] = row.Ticker
	}
	fmt.Printf("Buy list (%d): %s\n", len(names), strings.Join(names, ", "))
	return nil
}
