package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/pkg/logger"
)

// Exporter writes run outputs as CSV and JSON files for offline analysis.
// Each run gets its own directory under the output root.
type Exporter struct {
	dir string
	log *logger.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string, log *logger.Logger) *Exporter {
	return &Exporter{dir: dir, log: log}
}

// ExportRun writes every output table of one run.
func (e *Exporter) ExportRun(run backtest.RunOutput) error {
	if run.Result == nil {
		return fmt.Errorf("run %s has no result to export", run.Spec.Name)
	}
	dir := filepath.Join(e.dir, run.Spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := e.writeTrades(filepath.Join(dir, "trades.csv"), run.Result.Trades); err != nil {
		return err
	}
	if err := e.writeLedger(filepath.Join(dir, "ledger.csv"), run.Result.Ledger); err != nil {
		return err
	}
	if err := e.writeEquity(filepath.Join(dir, "equity.csv"), run.Result.Equity); err != nil {
		return err
	}
	if err := e.writePositions(filepath.Join(dir, "positions.csv"), run.Result.Positions); err != nil {
		return err
	}
	if len(run.Decisions) > 0 {
		if err := e.writeDecisions(filepath.Join(dir, "decisions.csv"), run.Decisions); err != nil {
			return err
		}
	}
	if len(run.Result.AppliedActions) > 0 {
		if err := e.writeActions(filepath.Join(dir, "applied_actions.csv"), run.Result.AppliedActions); err != nil {
			return err
		}
	}
	if err := writeJSON(filepath.Join(dir, "metrics.json"), run.Metrics); err != nil {
		return err
	}
	if run.Result.Failure != nil {
		if err := writeJSON(filepath.Join(dir, "failure.json"), run.Result.Failure); err != nil {
			return err
		}
	}

	e.log.WithFields(map[string]interface{}{
		"run": run.Spec.Name,
		"dir": dir,
	}).Info("run exported")
	return nil
}

// ExportRankings writes the OEE rows shared by all runs.
func (e *Exporter) ExportRankings(rows []contracts.RankingRow) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return writeCSV(filepath.Join(e.dir, "rankings.csv"),
		[]string{"ticker", "decision_date", "data_end_date", "n_lp", "n_cp",
			"availability_lp", "performance_lp", "variability_lp", "quality_lp", "oee_lp",
			"availability_cp", "performance_cp", "variability_cp", "quality_cp", "oee_cp",
			"oee_overall", "eta_end", "state_end"},
		len(rows), func(i int) []string {
			r := rows[i]
			return []string{
				r.Ticker, day(r.DecisionDate), day(r.DataEndDate),
				strconv.Itoa(r.NLP), strconv.Itoa(r.NCP),
				num(r.AvailabilityLP), num(r.PerformanceLP), num(r.VariabilityLP), num(r.QualityLP), num(r.OEELP),
				num(r.AvailabilityCP), num(r.PerformanceCP), num(r.VariabilityCP), num(r.QualityCP), num(r.OEECP),
				num(r.OEEOverall), strconv.Itoa(r.EtaEnd), string(r.StateEnd),
			}
		})
}

// ExportCandidates writes the championship rows shared by all runs.
func (e *Exporter) ExportCandidates(rows []contracts.CandidateRow) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return writeCSV(filepath.Join(e.dir, "candidates.csv"),
		[]string{"ticker", "decision_date", "points", "points_total", "standing",
			"in_pool", "slope_30", "slope_45", "slope_60", "alive", "rank_slope45"},
		len(rows), func(i int) []string {
			r := rows[i]
			return []string{
				r.Ticker, day(r.DecisionDate),
				strconv.Itoa(r.Points), strconv.Itoa(r.PointsTotal), strconv.Itoa(r.Standing),
				strconv.FormatBool(r.InPool),
				num(r.Slope30), num(r.Slope45), num(r.Slope60),
				strconv.FormatBool(r.Alive), strconv.Itoa(r.RankSlope45),
			}
		})
}

func (e *Exporter) writeTrades(path string, trades []contracts.Trade) error {
	return writeCSV(path,
		[]string{"signal_date", "execution_date", "ticker", "side", "reason",
			"price", "quantity", "notional", "cost"},
		len(trades), func(i int) []string {
			t := trades[i]
			return []string{
				day(t.SignalDate), day(t.ExecutionDate), t.Ticker, string(t.Side), t.Reason,
				num(t.Price), strconv.Itoa(t.Quantity), num(t.Notional), num(t.Cost),
			}
		})
}

func (e *Exporter) writeLedger(path string, entries []contracts.LedgerEntry) error {
	return writeCSV(path,
		[]string{"date", "entry_type", "ticker", "detail", "cash_before", "cash_after"},
		len(entries), func(i int) []string {
			l := entries[i]
			return []string{
				day(l.Date), l.EntryType, l.Ticker, l.Detail,
				num(l.CashBefore), num(l.CashAfter),
			}
		})
}

func (e *Exporter) writeEquity(path string, points []contracts.EquityPoint) error {
	return writeCSV(path,
		[]string{"date", "cash", "positions_value", "equity", "num_positions"},
		len(points), func(i int) []string {
			p := points[i]
			return []string{
				day(p.Date), num(p.Cash), num(p.PositionsValue), num(p.Equity),
				strconv.Itoa(p.NumPositions),
			}
		})
}

func (e *Exporter) writePositions(path string, positions []contracts.PositionSnapshot) error {
	return writeCSV(path,
		[]string{"date", "ticker", "quantity"},
		len(positions), func(i int) []string {
			p := positions[i]
			return []string{day(p.Date), p.Ticker, strconv.Itoa(p.Quantity)}
		})
}

func (e *Exporter) writeDecisions(path string, decisions []contracts.SellDecision) error {
	return writeCSV(path,
		[]string{"date", "ticker", "score", "z", "sigma", "pct", "policy",
			"defensive", "oracle", "worst_cumret_3d", "reward"},
		len(decisions), func(i int) []string {
			d := decisions[i]
			return []string{
				day(d.Date), d.Ticker, strconv.Itoa(d.Score),
				num(d.Z), num(d.Sigma), num(d.Pct), d.Policy,
				strconv.FormatBool(d.Defensive), strconv.FormatBool(d.Oracle),
				num(d.WorstCumret3D), num(d.Reward),
			}
		})
}

func (e *Exporter) writeActions(path string, actions []contracts.CorporateAction) error {
	return writeCSV(path,
		[]string{"ticker", "ex_date", "factor", "action_type"},
		len(actions), func(i int) []string {
			a := actions[i]
			return []string{a.Ticker, day(a.ExDate), num(a.Factor), a.ActionType}
		})
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}

// num renders a float; NaN and infinities become empty cells.
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
