package marketdata

import "time"

// RiskFree is the daily risk-free return by session date.
type RiskFree map[time.Time]float64

// Rate returns the rate for d, or 0 when no observation exists. The engine
// applies it with a one-day lag, so a missing prior day accrues nothing.
func (rf RiskFree) Rate(d time.Time) float64 {
	return rf[d]
}

// RuleFlag is the external rule evidence for one (ticker, date).
type RuleFlag struct {
	Any    bool
	Strong bool
}

// RuleFlags maps ticker to its dated flags.
type RuleFlags map[string]map[time.Time]RuleFlag

func (rf RuleFlags) set(ticker string, d time.Time, flag RuleFlag) {
	m, ok := rf[ticker]
	if !ok {
		m = make(map[time.Time]RuleFlag)
		rf[ticker] = m
	}
	m[d] = flag
}

// Get returns the flag for (ticker, d); the zero flag when absent.
func (rf RuleFlags) Get(ticker string, d time.Time) RuleFlag {
	return rf[ticker][d]
}
