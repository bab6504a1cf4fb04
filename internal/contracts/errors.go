package contracts

import (
	"fmt"
	"time"
)

// DataError marks a recoverable data problem: a missing or non-finite value
// on a day a trade or statistic needed it. The affected ticker/day is skipped
// and logged; the run continues.
type DataError struct {
	Op     string
	Ticker string
	Date   time.Time
	Reason string
}

func (e *DataError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("data error in %s on %s: %s", e.Op, e.Date.Format("2006-01-02"), e.Reason)
	}
	return fmt.Sprintf("data error in %s for %s on %s: %s", e.Op, e.Ticker, e.Date.Format("2006-01-02"), e.Reason)
}

// InvariantViolation is fatal. It aborts the run and identifies the session
// and ticker where the invariant broke.
type InvariantViolation struct {
	Invariant string
	Session   time.Time
	Ticker    string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	msg := fmt.Sprintf("invariant violated: %s on %s", e.Invariant, e.Session.Format("2006-01-02"))
	if e.Ticker != "" {
		msg += " ticker=" + e.Ticker
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// ConfigError is fatal before the simulation starts: empty decision-day set,
// unresolvable input path, inconsistent parameters.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// NewDataError is a convenience constructor for skip-and-log sites.
func NewDataError(op, ticker string, date time.Time, reason string) *DataError {
	return &DataError{Op: op, Ticker: ticker, Date: date, Reason: reason}
}
