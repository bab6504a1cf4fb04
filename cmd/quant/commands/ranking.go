package commands

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/cepfolio/internal/contracts"
)

// rankingCmd prints the OEE ranking of one decision day.
var rankingCmd = &cobra.Command{
	Use:   "ranking",
	Short: "Show OEE ranking for a decision day",
	Long: `Runs classification and ranking, then prints the top tickers of one
decision day ordered by overall OEE.

Example:
  go run ./cmd/quant ranking
  go run ./cmd/quant ranking --date 2024-03-15 --top 30`,
	RunE: runRanking,
}

var (
	rankingDate string
	rankingTop  int
)

func init() {
	rootCmd.AddCommand(rankingCmd)
	rankingCmd.Flags().StringVar(&rankingDate, "date", "", "decision day (YYYY-MM-DD, default: last)")
	rankingCmd.Flags().IntVar(&rankingTop, "top", 20, "number of rows to print")
}

func runRanking(cmd *cobra.Command, args []string) error {
	cfg, log, err := initRuntime()
	if err != nil {
		return err
	}
	strategy, _, err := loadStrategy(log)
	if err != nil {
		return err
	}

	_, rankRes, _, err := runStages(cfg, strategy, log)
	if err != nil {
		return err
	}

	day, err := resolveDay(rankingDate, rankRes.Days())
	if err != nil {
		return err
	}
	rows := append([]contracts.RankingRow(nil), rankRes.ForDay(day)...)
	if len(rows) == 0 {
		return fmt.Errorf("no ranking rows for %s", day.Format("2006-01-02"))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		oi, oj := rows[i].OEEOverall, rows[j].OEEOverall
		if oi != oj {
			return oi > oj
		}
		return rows[i].Ticker < rows[j].Ticker
	})
	if rankingTop > 0 && len(rows) > rankingTop {
		rows = rows[:rankingTop]
	}

	fmt.Printf("Decision day %s, data end %s\n",
		day.Format("2006-01-02"), rows[0].DataEndDate.Format("2006-01-02"))
	fmt.Println(strings.Repeat("-", 84))
	fmt.Printf("%4s %-8s %9s %9s %9s %9s %9s %-14s\n",
		"#", "ticker", "oee", "oee_lp", "oee_cp", "avail_lp", "var_lp", "state")
	fmt.Println(strings.Repeat("-", 84))
	for i, row := range rows {
		fmt.Printf("%4d %-8s %9.4f %9.4f %9.4f %9.4f %9s %-14s\n",
			i+1, row.Ticker, row.OEEOverall, row.OEELP, row.OEECP,
			row.AvailabilityLP, fmtNaN(row.VariabilityLP), row.StateEnd)
	}
	fmt.Println(strings.Repeat("-", 84))
	return nil
}

// fmtNaN renders undefined variability as a dash.
func fmtNaN(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
