package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/pkg/config"
	"github.com/wonny/cepfolio/pkg/logger"
)

// Loader reads the input CSV files declared in config. Malformed rows are
// skipped and logged; a missing file or header is a ConfigError.
type Loader struct {
	cfg config.DataConfig
	log *logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(cfg config.DataConfig, log *logger.Logger) *Loader {
	return &Loader{cfg: cfg, log: log}
}

// LoadCalendar reads the trading-session calendar (column: date).
func (l *Loader) LoadCalendar() ([]time.Time, error) {
	var days []time.Time
	err := l.readCSV(l.cfg.CalendarPath, []string{"date"}, func(get rowGetter) {
		d, err := parseDate(get("date"))
		if err != nil {
			l.skip(l.cfg.CalendarPath, err)
			return
		}
		days = append(days, d)
	})
	return days, err
}

// LoadPrices reads the daily close panel (columns: date, ticker, close).
func (l *Loader) LoadPrices() ([]Observation, error) {
	return l.loadObservations(l.cfg.PricePanelPath, "close")
}

// LoadSignals reads the monitored-signal panel (columns: date, ticker, x).
func (l *Loader) LoadSignals() ([]Observation, error) {
	return l.loadObservations(l.cfg.SignalPanelPath, "x")
}

func (l *Loader) loadObservations(path, valueCol string) ([]Observation, error) {
	var obs []Observation
	err := l.readCSV(path, []string{"date", "ticker", valueCol}, func(get rowGetter) {
		d, err := parseDate(get("date"))
		if err != nil {
			l.skip(path, err)
			return
		}
		v, err := strconv.ParseFloat(get(valueCol), 64)
		if err != nil {
			l.skip(path, fmt.Errorf("bad %s: %w", valueCol, err))
			return
		}
		obs = append(obs, Observation{Date: d, Ticker: get("ticker"), Value: v})
	})
	return obs, err
}

// LoadRiskFree reads the daily risk-free series (columns: date, rate).
func (l *Loader) LoadRiskFree() (RiskFree, error) {
	rf := make(RiskFree)
	err := l.readCSV(l.cfg.RiskFreePath, []string{"date", "rate"}, func(get rowGetter) {
		d, err := parseDate(get("date"))
		if err != nil {
			l.skip(l.cfg.RiskFreePath, err)
			return
		}
		r, err := strconv.ParseFloat(get("rate"), 64)
		if err != nil {
			l.skip(l.cfg.RiskFreePath, fmt.Errorf("bad rate: %w", err))
			return
		}
		rf[d] = r
	})
	return rf, err
}

// LoadCorporateActions reads split/bonus events
// (columns: ticker, ex_date, factor, action_type).
func (l *Loader) LoadCorporateActions() ([]contracts.CorporateAction, error) {
	var actions []contracts.CorporateAction
	err := l.readCSV(l.cfg.CorporateActionsPath, []string{"ticker", "ex_date", "factor", "action_type"}, func(get rowGetter) {
		d, err := parseDate(get("ex_date"))
		if err != nil {
			l.skip(l.cfg.CorporateActionsPath, err)
			return
		}
		f, err := strconv.ParseFloat(get("factor"), 64)
		if err != nil || f <= 0 {
			l.skip(l.cfg.CorporateActionsPath, fmt.Errorf("bad factor %q", get("factor")))
			return
		}
		actions = append(actions, contracts.CorporateAction{
			Ticker:     get("ticker"),
			ExDate:     d,
			Factor:     f,
			ActionType: get("action_type"),
		})
	})
	return actions, err
}

// LoadRuleFlags reads the rule-evidence flags
// (columns: date, ticker, any_rule, strong_rule).
func (l *Loader) LoadRuleFlags() (RuleFlags, error) {
	rf := make(RuleFlags)
	err := l.readCSV(l.cfg.RuleFlagsPath, []string{"date", "ticker", "any_rule", "strong_rule"}, func(get rowGetter) {
		d, err := parseDate(get("date"))
		if err != nil {
			l.skip(l.cfg.RuleFlagsPath, err)
			return
		}
		rf.set(get("ticker"), d, RuleFlag{
			Any:    parseBool(get("any_rule")),
			Strong: parseBool(get("strong_rule")),
		})
	})
	return rf, err
}

type rowGetter func(col string) string

// readCSV streams path row by row, resolving columns by header name.
func (l *Loader) readCSV(path string, required []string, handle func(rowGetter)) error {
	f, err := os.Open(path)
	if err != nil {
		return &contracts.ConfigError{Field: path, Reason: err.Error()}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return &contracts.ConfigError{Field: path, Reason: "missing header"}
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := cols[col]; !ok {
			return &contracts.ConfigError{Field: path, Reason: "missing column " + col}
		}
	}

	rows := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.skip(path, err)
			continue
		}
		get := func(col string) string {
			i := cols[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		handle(get)
		rows++
	}

	l.log.WithFields(map[string]interface{}{"path": path, "rows": rows}).Debug("loaded input file")
	return nil
}

func (l *Loader) skip(path string, err error) {
	l.log.WithError(err).WithField("path", path).Warn("skipping malformed row")
}

var dateLayouts = []string{"2006-01-02", "20060102", time.RFC3339}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}
