package backtest

import (
	"context"
	"fmt"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/marketdata"
)

// LoadInputs reads every input file through the loader and assembles the
// aligned panels. The calendar file is the session axis; price and signal
// observations outside it are dropped by panel construction.
func LoadInputs(loader *marketdata.Loader) (Inputs, error) {
	days, err := loader.LoadCalendar()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load calendar: %w", err)
	}
	cal, err := calendar.New(days)
	if err != nil {
		return Inputs{}, err
	}

	priceObs, err := loader.LoadPrices()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load prices: %w", err)
	}
	signalObs, err := loader.LoadSignals()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load signals: %w", err)
	}
	riskFree, err := loader.LoadRiskFree()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load risk-free series: %w", err)
	}
	actions, err := loader.LoadCorporateActions()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load corporate actions: %w", err)
	}
	flags, err := loader.LoadRuleFlags()
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load rule flags: %w", err)
	}

	return Inputs{
		Prices:           marketdata.NewPanel(cal, priceObs),
		Signals:          marketdata.NewPanel(cal, signalObs),
		RiskFree:         riskFree,
		Flags:            flags,
		CorporateActions: actions,
	}, nil
}

// LoadInputsDB is the database counterpart of LoadInputs: it reads the
// same panels from the marketdata schema. The stored price panel defines
// the session axis.
func LoadInputsDB(ctx context.Context, repo *marketdata.Repository) (Inputs, error) {
	days, err := repo.LoadCalendar(ctx)
	if err != nil {
		return Inputs{}, err
	}
	cal, err := calendar.New(days)
	if err != nil {
		return Inputs{}, err
	}
	from, to := days[0], days[len(days)-1]

	priceObs, err := repo.LoadPrices(ctx, from, to)
	if err != nil {
		return Inputs{}, err
	}
	signalObs, err := repo.LoadSignals(ctx, from, to)
	if err != nil {
		return Inputs{}, err
	}
	riskFree, err := repo.LoadRiskFree(ctx)
	if err != nil {
		return Inputs{}, err
	}
	actions, err := repo.LoadCorporateActions(ctx)
	if err != nil {
		return Inputs{}, err
	}
	flags, err := repo.LoadRuleFlags(ctx)
	if err != nil {
		return Inputs{}, err
	}

	return Inputs{
		Prices:           marketdata.NewPanel(cal, priceObs),
		Signals:          marketdata.NewPanel(cal, signalObs),
		RiskFree:         riskFree,
		Flags:            flags,
		CorporateActions: actions,
	}, nil
}
