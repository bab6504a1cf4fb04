// Package store persists simulation outputs. Writes are idempotent per
// run: each save deletes the run's previous rows and inserts the new ones
// inside a single transaction.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/contracts"
)

// Repository handles result persistence in the results schema.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a result repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RunSummary is the stored header of one variant run.
type RunSummary struct {
	RunID        string           `json:"run_id"`
	StrategyID   string           `json:"strategy_id"`
	ConfigHash   string           `json:"config_hash"`
	Policy       string           `json:"policy"`
	RegimeWindow int              `json:"regime_window"`
	Failed       bool             `json:"failed"`
	Metrics      backtest.Metrics `json:"metrics"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SaveBaselines replaces all stored control-chart baselines.
func (r *Repository) SaveBaselines(ctx context.Context, baselines map[string]*contracts.BaselineLimits) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM results.baselines"); err != nil {
		return fmt.Errorf("failed to delete old baselines: %w", err)
	}

	query := `
		INSERT INTO results.baselines (
			ticker, baseline_start, baseline_end, eligible_from,
			grand_mean, mean_range, lcl_xbar, ucl_xbar, lcl_range, ucl_range,
			sigma, insufficient
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, b := range baselines {
		_, err := tx.Exec(ctx, query,
			b.Ticker, b.BaselineStart, b.BaselineEnd, b.EligibleFrom,
			b.GrandMean, b.MeanRange, b.LCLXbar, b.UCLXbar, b.LCLRange, b.UCLRange,
			b.Sigma, b.Insufficient,
		)
		if err != nil {
			return fmt.Errorf("failed to insert baseline for %s: %w", b.Ticker, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRankings replaces the stored OEE rows.
func (r *Repository) SaveRankings(ctx context.Context, rows []contracts.RankingRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM results.rankings"); err != nil {
		return fmt.Errorf("failed to delete old rankings: %w", err)
	}

	query := `
		INSERT INTO results.rankings (
			ticker, decision_date, data_end_date, n_lp, n_cp,
			availability_lp, performance_lp, variability_lp, quality_lp, oee_lp,
			availability_cp, performance_cp, variability_cp, quality_cp, oee_cp,
			oee_overall, eta_end, state_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	for _, row := range rows {
		_, err := tx.Exec(ctx, query,
			row.Ticker, row.DecisionDate, row.DataEndDate, row.NLP, row.NCP,
			row.AvailabilityLP, row.PerformanceLP, nullable(row.VariabilityLP), row.QualityLP, row.OEELP,
			row.AvailabilityCP, row.PerformanceCP, nullable(row.VariabilityCP), row.QualityCP, row.OEECP,
			row.OEEOverall, row.EtaEnd, string(row.StateEnd),
		)
		if err != nil {
			return fmt.Errorf("failed to insert ranking row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveCandidates replaces the stored championship rows.
func (r *Repository) SaveCandidates(ctx context.Context, rows []contracts.CandidateRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM results.candidates"); err != nil {
		return fmt.Errorf("failed to delete old candidates: %w", err)
	}

	query := `
		INSERT INTO results.candidates (
			ticker, decision_date, points, points_total, standing,
			in_pool, slope_30, slope_45, slope_60, alive, rank_slope45
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, row := range rows {
		_, err := tx.Exec(ctx, query,
			row.Ticker, row.DecisionDate, row.Points, row.PointsTotal, row.Standing,
			row.InPool, row.Slope30, row.Slope45, row.Slope60, row.Alive, row.RankSlope45,
		)
		if err != nil {
			return fmt.Errorf("failed to insert candidate row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRun replaces every stored row of one variant run: summary, trades,
// ledger, equity curve, positions, applied corporate actions, decisions
// and the failure record if any.
func (r *Repository) SaveRun(ctx context.Context, strategyID, configHash string, run backtest.RunOutput) error {
	if run.Result == nil {
		return fmt.Errorf("run %s has no result to save", run.Spec.Name)
	}
	runID := run.Spec.Name

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"runs", "trades", "ledger", "equity", "positions", "applied_actions", "sell_decisions", "failures"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM results.%s WHERE run_id = $1", table), runID); err != nil {
			return fmt.Errorf("failed to delete old %s: %w", table, err)
		}
	}

	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO results.runs (
			run_id, strategy_id, config_hash, policy, regime_window, failed, metrics, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, runID, strategyID, configHash, string(run.Spec.Policy), run.Spec.RegimeWindow, run.Result.Failure != nil, metricsJSON)
	if err != nil {
		return fmt.Errorf("failed to insert run summary: %w", err)
	}

	tradeQuery := `
		INSERT INTO results.trades (
			run_id, signal_date, execution_date, ticker, side, reason,
			price, quantity, notional, cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, t := range run.Result.Trades {
		_, err := tx.Exec(ctx, tradeQuery,
			runID, t.SignalDate, t.ExecutionDate, t.Ticker, string(t.Side), t.Reason,
			t.Price, t.Quantity, t.Notional, t.Cost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	ledgerQuery := `
		INSERT INTO results.ledger (
			run_id, date, entry_type, ticker, detail, cash_before, cash_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, e := range run.Result.Ledger {
		_, err := tx.Exec(ctx, ledgerQuery,
			runID, e.Date, e.EntryType, e.Ticker, e.Detail, e.CashBefore, e.CashAfter,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}

	equityQuery := `
		INSERT INTO results.equity (
			run_id, date, cash, positions_value, equity, num_positions
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, p := range run.Result.Equity {
		_, err := tx.Exec(ctx, equityQuery,
			runID, p.Date, p.Cash, p.PositionsValue, p.Equity, p.NumPositions,
		)
		if err != nil {
			return fmt.Errorf("failed to insert equity point: %w", err)
		}
	}

	positionQuery := `
		INSERT INTO results.positions (run_id, date, ticker, quantity)
		VALUES ($1, $2, $3, $4)
	`
	for _, p := range run.Result.Positions {
		if _, err := tx.Exec(ctx, positionQuery, runID, p.Date, p.Ticker, p.Quantity); err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
	}

	actionQuery := `
		INSERT INTO results.applied_actions (run_id, ticker, ex_date, factor, action_type)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, a := range run.Result.AppliedActions {
		if _, err := tx.Exec(ctx, actionQuery, runID, a.Ticker, a.ExDate, a.Factor, a.ActionType); err != nil {
			return fmt.Errorf("failed to insert applied action: %w", err)
		}
	}

	decisionQuery := `
		INSERT INTO results.sell_decisions (
			run_id, date, ticker, score, z, sigma, pct, policy, defensive,
			oracle, worst_cumret_3d, reward
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for _, d := range run.Decisions {
		_, err := tx.Exec(ctx, decisionQuery,
			runID, d.Date, d.Ticker, d.Score, nullable(d.Z), nullable(d.Sigma), d.Pct,
			d.Policy, d.Defensive, d.Oracle, nullable(d.WorstCumret3D), d.Reward,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sell decision: %w", err)
		}
	}

	if f := run.Result.Failure; f != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO results.failures (run_id, session, ticker, invariant, message)
			VALUES ($1, $2, $3, $4, $5)
		`, runID, f.Session, f.Ticker, f.Invariant, f.Message)
		if err != nil {
			return fmt.Errorf("failed to insert failure record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRuns lists stored run summaries, newest first.
func (r *Repository) GetRuns(ctx context.Context) ([]RunSummary, error) {
	query := `
		SELECT run_id, strategy_id, config_hash, policy, regime_window, failed, metrics, created_at
		FROM results.runs
		ORDER BY created_at DESC, run_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0)
	for rows.Next() {
		var s RunSummary
		var metricsJSON []byte
		err := rows.Scan(&s.RunID, &s.StrategyID, &s.ConfigHash, &s.Policy,
			&s.RegimeWindow, &s.Failed, &metricsJSON, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		if err := json.Unmarshal(metricsJSON, &s.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics for %s: %w", s.RunID, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// GetRun retrieves one run summary, or nil when absent.
func (r *Repository) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	query := `
		SELECT run_id, strategy_id, config_hash, policy, regime_window, failed, metrics, created_at
		FROM results.runs
		WHERE run_id = $1
	`
	var s RunSummary
	var metricsJSON []byte
	err := r.pool.QueryRow(ctx, query, runID).Scan(&s.RunID, &s.StrategyID, &s.ConfigHash,
		&s.Policy, &s.RegimeWindow, &s.Failed, &metricsJSON, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	if err := json.Unmarshal(metricsJSON, &s.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics for %s: %w", runID, err)
	}
	return &s, nil
}

// GetEquity retrieves the equity curve of one run.
func (r *Repository) GetEquity(ctx context.Context, runID string) ([]contracts.EquityPoint, error) {
	query := `
		SELECT date, cash, positions_value, equity, num_positions
		FROM results.equity
		WHERE run_id = $1
		ORDER BY date
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity: %w", err)
	}
	defer rows.Close()

	points := make([]contracts.EquityPoint, 0)
	for rows.Next() {
		var p contracts.EquityPoint
		if err := rows.Scan(&p.Date, &p.Cash, &p.PositionsValue, &p.Equity, &p.NumPositions); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetTrades retrieves the trades of one run in execution order.
func (r *Repository) GetTrades(ctx context.Context, runID string) ([]contracts.Trade, error) {
	query := `
		SELECT signal_date, execution_date, ticker, side, reason, price, quantity, notional, cost
		FROM results.trades
		WHERE run_id = $1
		ORDER BY execution_date, ticker
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]contracts.Trade, 0)
	for rows.Next() {
		var t contracts.Trade
		var side string
		err := rows.Scan(&t.SignalDate, &t.ExecutionDate, &t.Ticker, &side, &t.Reason,
			&t.Price, &t.Quantity, &t.Notional, &t.Cost)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = contracts.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetPositions retrieves the position snapshots of one run on one date.
func (r *Repository) GetPositions(ctx context.Context, runID string, date time.Time) ([]contracts.PositionSnapshot, error) {
	query := `
		SELECT date, ticker, quantity
		FROM results.positions
		WHERE run_id = $1 AND date = $2
		ORDER BY ticker
	`
	rows, err := r.pool.Query(ctx, query, runID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]contracts.PositionSnapshot, 0)
	for rows.Next() {
		var p contracts.PositionSnapshot
		if err := rows.Scan(&p.Date, &p.Ticker, &p.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetDecisions retrieves the sell-decision audit rows of one run.
func (r *Repository) GetDecisions(ctx context.Context, runID string) ([]contracts.SellDecision, error) {
	query := `
		SELECT date, ticker, score, z, sigma, pct, policy, defensive,
			oracle, worst_cumret_3d, reward
		FROM results.sell_decisions
		WHERE run_id = $1
		ORDER BY date, ticker
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sell decisions: %w", err)
	}
	defer rows.Close()

	decisions := make([]contracts.SellDecision, 0)
	for rows.Next() {
		var d contracts.SellDecision
		var z, sigma, worst *float64
		err := rows.Scan(&d.Date, &d.Ticker, &d.Score, &z, &sigma, &d.Pct,
			&d.Policy, &d.Defensive, &d.Oracle, &worst, &d.Reward)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sell decision: %w", err)
		}
		d.Z = fromNullable(z)
		d.Sigma = fromNullable(sigma)
		d.WorstCumret3D = fromNullable(worst)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetBaselines retrieves all stored baselines keyed by ticker.
func (r *Repository) GetBaselines(ctx context.Context) (map[string]*contracts.BaselineLimits, error) {
	query := `
		SELECT ticker, baseline_start, baseline_end, eligible_from,
			grand_mean, mean_range, lcl_xbar, ucl_xbar, lcl_range, ucl_range,
			sigma, insufficient
		FROM results.baselines
		ORDER BY ticker
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*contracts.BaselineLimits)
	for rows.Next() {
		var b contracts.BaselineLimits
		err := rows.Scan(&b.Ticker, &b.BaselineStart, &b.BaselineEnd, &b.EligibleFrom,
			&b.GrandMean, &b.MeanRange, &b.LCLXbar, &b.UCLXbar, &b.LCLRange, &b.UCLRange,
			&b.Sigma, &b.Insufficient)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		out[b.Ticker] = &b
	}
	return out, rows.Err()
}
