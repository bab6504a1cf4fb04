package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/cepfolio/internal/contracts"
)

// Repository loads the same input panels from Postgres. It is the database
// counterpart of Loader; one of the two feeds a run.
// SSOT: market-data reads go through here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a market-data repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadCalendar reads the distinct session dates of the price panel.
func (r *Repository) LoadCalendar(ctx context.Context) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT trade_date FROM marketdata.price_panel ORDER BY trade_date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan calendar row: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calendar rows: %w", err)
	}
	return days, nil
}

// LoadPrices reads the close panel between from and to inclusive.
func (r *Repository) LoadPrices(ctx context.Context, from, to time.Time) ([]Observation, error) {
	return r.loadObservations(ctx,
		`SELECT trade_date, ticker, close_price
		 FROM marketdata.price_panel
		 WHERE trade_date BETWEEN $1 AND $2
		 ORDER BY trade_date, ticker`, from, to)
}

// LoadSignals reads the monitored-signal panel between from and to inclusive.
func (r *Repository) LoadSignals(ctx context.Context, from, to time.Time) ([]Observation, error) {
	return r.loadObservations(ctx,
		`SELECT trade_date, ticker, signal_value
		 FROM marketdata.signal_panel
		 WHERE trade_date BETWEEN $1 AND $2
		 ORDER BY trade_date, ticker`, from, to)
}

func (r *Repository) loadObservations(ctx context.Context, query string, from, to time.Time) ([]Observation, error) {
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query panel: %w", err)
	}
	defer rows.Close()

	obs := make([]Observation, 0)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.Date, &o.Ticker, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan panel row: %w", err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating panel rows: %w", err)
	}
	return obs, nil
}

// LoadRiskFree reads the daily risk-free series.
func (r *Repository) LoadRiskFree(ctx context.Context) (RiskFree, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT trade_date, daily_rate FROM marketdata.riskfree_daily`)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk-free series: %w", err)
	}
	defer rows.Close()

	rf := make(RiskFree)
	for rows.Next() {
		var d time.Time
		var rate float64
		if err := rows.Scan(&d, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan risk-free row: %w", err)
		}
		rf[d] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk-free rows: %w", err)
	}
	return rf, nil
}

// LoadCorporateActions reads split/bonus events.
func (r *Repository) LoadCorporateActions(ctx context.Context) ([]contracts.CorporateAction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ticker, ex_date, factor, action_type
		 FROM marketdata.corporate_actions ORDER BY ex_date, ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corporate actions: %w", err)
	}
	defer rows.Close()

	actions := make([]contracts.CorporateAction, 0)
	for rows.Next() {
		var a contracts.CorporateAction
		if err := rows.Scan(&a.Ticker, &a.ExDate, &a.Factor, &a.ActionType); err != nil {
			return nil, fmt.Errorf("failed to scan corporate action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corporate actions: %w", err)
	}
	return actions, nil
}

// LoadRuleFlags reads the rule-evidence flags.
func (r *Repository) LoadRuleFlags(ctx context.Context) (RuleFlags, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT trade_date, ticker, any_rule, strong_rule
		 FROM marketdata.rule_flags`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule flags: %w", err)
	}
	defer rows.Close()

	rf := make(RuleFlags)
	for rows.Next() {
		var d time.Time
		var ticker string
		var flag RuleFlag
		if err := rows.Scan(&d, &ticker, &flag.Any, &flag.Strong); err != nil {
			return nil, fmt.Errorf("failed to scan rule flag: %w", err)
		}
		rf.set(ticker, d, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule flags: %w", err)
	}
	return rf, nil
}
