package contracts

import "time"

// Side of a fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade reasons. The reason string is part of the output contract and is
// stable across runs.
const (
	ReasonInitialEntry    = "INITIAL_TOPN_SLOPE45"
	ReasonTopUp           = "TOPUP_TO_MAX_WEIGHT"
	ReasonNewEntry        = "NEW_ENTRY_UP_TO_WEIGHT"
	ReasonStressSell      = "STRESS_OUT_OF_CONTROL_D_PLUS_1"
	ReasonPolicySell      = "SELL_POLICY_D_PLUS_1"
	ReasonCorporateAction = "CORPORATE_ACTION"
)

// Trade is an immutable fill record, appended once and never mutated.
type Trade struct {
	SignalDate    time.Time `json:"signal_date"`
	ExecutionDate time.Time `json:"execution_date"`
	Ticker        string    `json:"ticker"`
	Side          Side      `json:"side"`
	Reason        string    `json:"reason"`
	Price         float64   `json:"price"`
	Quantity      int       `json:"quantity"`
	Notional      float64   `json:"notional"`
	Cost          float64   `json:"cost"`
}

// LedgerEntry records one economic event on one session: trade, corporate
// action or risk-free accrual. Append-only.
type LedgerEntry struct {
	Date       time.Time `json:"date"`
	EntryType  string    `json:"entry_type"`
	Ticker     string    `json:"ticker,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CashBefore float64   `json:"cash_before"`
	CashAfter  float64   `json:"cash_after"`
}

// Ledger entry types.
const (
	EntryTradeBuy        = "TRADE_BUY"
	EntryTradeSell       = "TRADE_SELL"
	EntryCorporateAction = "CORPORATE_ACTION"
	EntryCashAccrual     = "CASH_RISKFREE"
)

// EquityPoint is the end-of-session snapshot. Positions are valued at the
// prior session's close; that convention is part of the reporting contract.
type EquityPoint struct {
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	Equity         float64   `json:"equity"`
	NumPositions   int       `json:"num_positions"`
}

// PositionSnapshot is one held position at end of session.
type PositionSnapshot struct {
	Date     time.Time `json:"date"`
	Ticker   string    `json:"ticker"`
	Quantity int       `json:"quantity"`
}

// CorporateAction is a split/bonus/reverse-split event applied on its
// ex-date. Factor multiplies the held quantity; cash is unaffected.
type CorporateAction struct {
	Ticker     string    `json:"ticker"`
	ExDate     time.Time `json:"ex_date"`
	Factor     float64   `json:"factor"`
	ActionType string    `json:"action_type"` // SPLIT, REVERSE_SPLIT, BONUS
}

// FailureRecord describes why a run aborted. A failed run still emits every
// output row produced before the failure point, plus exactly one of these.
type FailureRecord struct {
	RunID     string    `json:"run_id"`
	Session   time.Time `json:"session"`
	Ticker    string    `json:"ticker,omitempty"`
	Invariant string    `json:"invariant"`
	Message   string    `json:"message"`
}
