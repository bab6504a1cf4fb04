// Package portfolio is the execution state machine: it replays the decision
// calendar session by session, applying corporate actions, pending sells,
// CEP-gated buying under weight caps, sell-signal queuing for the next
// session, risk-free accrual on cash and the end-of-day equity snapshot.
// The step order inside one session is fixed and must not be rearranged.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/candidates"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/pkg/logger"
)

// cashTolerance absorbs floating-point dust; anything below it after a buy
// is a hard invariant violation.
const cashTolerance = -1e-9

// sellEpsilon keeps percentage-of-holding quantities from losing a share
// to floating-point truncation.
const sellEpsilon = 1e-12

// SellPolicy decides, on decision day D, which holdings to sell at D+1.
// A nil policy falls back to the stress rule: any held, classified ticker
// that is not in control sells out completely.
type SellPolicy interface {
	Name() string
	Decide(si int, day time.Time, held []contracts.Holding) []contracts.SellOrder
}

// Params holds the execution parameters.
type Params struct {
	InitialCapital float64
	CostRate       float64
	TopN           int     // buy-list depth by rank_slope45
	WInit          float64 // first-day weight of initial capital per name
	WExisting      float64 // top-up cap as a fraction of reference equity
	WNew           float64 // new-entry cap as a fraction of reference equity
}

// DefaultParams returns the standard sizing.
func DefaultParams() Params {
	return Params{
		InitialCapital: 100_000,
		CostRate:       0.00025,
		TopN:           10,
		WInit:          0.10,
		WExisting:      0.15,
		WNew:           0.10,
	}
}

// Inputs are the read-only series and stages feeding one run.
type Inputs struct {
	Prices           *marketdata.Panel // forward-filled closes
	Ranking          *ranking.Result
	Candidates       *candidates.Result
	RiskFree         marketdata.RiskFree
	CorporateActions []contracts.CorporateAction
	Policy           SellPolicy // nil enables the stress-sell rule
}

// RunResult collects every output row of one run. On failure the rows
// produced before the violation are still present, plus a failure record.
type RunResult struct {
	Trades         []contracts.Trade
	Ledger         []contracts.LedgerEntry
	Equity         []contracts.EquityPoint
	Positions      []contracts.PositionSnapshot
	AppliedActions []contracts.CorporateAction
	HoldingDays    []int // completed holding periods, in sessions
	Failure        *contracts.FailureRecord
}

// Engine executes one simulation run. Sessions are processed strictly in
// order: each depends on the prior session's ledger and queues.
type Engine struct {
	params Params
	in     Inputs
	cal    *calendar.SessionIndex
	log    *logger.Logger
}

// NewEngine validates inputs and creates an engine.
func NewEngine(in Inputs, params Params, log *logger.Logger) (*Engine, error) {
	if in.Prices == nil {
		return nil, &contracts.ConfigError{Field: "portfolio.prices", Reason: "price panel required"}
	}
	if in.Ranking == nil || in.Candidates == nil {
		return nil, &contracts.ConfigError{Field: "portfolio.stages", Reason: "ranking and candidate results required"}
	}
	if len(in.Candidates.Days()) == 0 {
		return nil, &contracts.ConfigError{Field: "portfolio.decision_days", Reason: "empty decision-day set"}
	}
	if params.InitialCapital <= 0 {
		return nil, &contracts.ConfigError{Field: "portfolio.initial_capital", Reason: "must be positive"}
	}
	if params.CostRate < 0 {
		return nil, &contracts.ConfigError{Field: "portfolio.cost_rate", Reason: "must be >= 0"}
	}
	if params.TopN < 1 {
		return nil, &contracts.ConfigError{Field: "portfolio.top_n", Reason: "must be >= 1"}
	}
	return &Engine{params: params, in: in, cal: in.Prices.Calendar(), log: log}, nil
}

// state is the mutable per-run state. Positions live in a flat array
// indexed by the price panel's ticker arena.
type state struct {
	cash    float64
	qty     []int
	entrySi []int // session a position was opened, -1 when flat

	pending map[int][]contracts.SellOrder // execution session -> orders
	blocked map[string]bool
	sold    map[string]bool // sold during the current session

	out RunResult
}

func (e *Engine) newState() *state {
	n := len(e.in.Prices.Tickers())
	s := &state{
		cash:    e.params.InitialCapital,
		qty:     make([]int, n),
		entrySi: make([]int, n),
		pending: make(map[int][]contracts.SellOrder),
		blocked: make(map[string]bool),
	}
	for i := range s.entrySi {
		s.entrySi[i] = -1
	}
	return s
}

// holdings materializes the non-zero positions with their weight in the
// prior-close reference equity, the score tiebreak basis for sell policies.
func (e *Engine) holdings(s *state, si int) []contracts.Holding {
	ref := e.referenceEquity(s, si)
	var out []contracts.Holding
	for ti, q := range s.qty {
		if q <= 0 {
			continue
		}
		h := contracts.Holding{Ticker: e.in.Prices.Tickers()[ti], Qty: q}
		if px := e.prevClose(ti, si); isFinite(px) && ref > 0 {
			h.Weight = float64(q) * px / ref
		}
		out = append(out, h)
	}
	return out
}

// Run replays every session from the first decision day to the calendar
// end. An invariant violation stops the run; the partial result is
// returned alongside the error.
func (e *Engine) Run() (*RunResult, error) {
	days := e.in.Candidates.Days()
	startSi := e.cal.Index(days[0])
	if startSi < 0 {
		return nil, &contracts.ConfigError{Field: "portfolio.decision_days", Reason: "first decision day not in calendar"}
	}

	actionsBySession := e.groupActions()
	s := e.newState()

	for si := startSi; si < e.cal.Len(); si++ {
		day := e.cal.At(si)
		s.sold = make(map[string]bool)

		e.applyCorporateActions(s, si, day, actionsBySession[si])
		e.executePendingSells(s, si, day)

		buyList := e.resolveBuyList(s, day)
		if err := e.executeBuys(s, si, day, buyList, si == startSi); err != nil {
			var iv *contracts.InvariantViolation
			if errors.As(err, &iv) {
				s.out.Failure = &contracts.FailureRecord{
					Session:   iv.Session,
					Ticker:    iv.Ticker,
					Invariant: iv.Invariant,
					Message:   iv.Error(),
				}
				e.snapshot(s, si, day)
				res := s.out
				return &res, err
			}
			return nil, err
		}

		e.queueSellSignals(s, si, day)
		e.accrueRiskFree(s, si, day)
		e.snapshot(s, si, day)
	}

	res := s.out
	e.log.WithFields(map[string]interface{}{
		"sessions": e.cal.Len() - startSi,
		"trades":   len(res.Trades),
	}).Info("portfolio run complete")
	return &res, nil
}

func (e *Engine) groupActions() map[int][]contracts.CorporateAction {
	out := make(map[int][]contracts.CorporateAction)
	for _, a := range e.in.CorporateActions {
		if si := e.cal.Index(a.ExDate); si >= 0 {
			out[si] = append(out[si], a)
		}
	}
	return out
}

// applyCorporateActions multiplies held quantities by the event factor.
// Cash is untouched; the adjustment is purely a share-count restatement.
func (e *Engine) applyCorporateActions(s *state, si int, day time.Time, actions []contracts.CorporateAction) {
	for _, a := range actions {
		ti := e.in.Prices.TickerIndex(a.Ticker)
		if ti < 0 || s.qty[ti] <= 0 {
			continue
		}
		before := s.qty[ti]
		s.qty[ti] = int(math.Round(float64(before) * a.Factor))
		s.out.AppliedActions = append(s.out.AppliedActions, a)
		s.out.Ledger = append(s.out.Ledger, contracts.LedgerEntry{
			Date:       day,
			EntryType:  contracts.EntryCorporateAction,
			Ticker:     a.Ticker,
			Detail:     fmt.Sprintf("%s factor=%g qty %d -> %d", a.ActionType, a.Factor, before, s.qty[ti]),
			CashBefore: s.cash,
			CashAfter:  s.cash,
		})
	}
}

// executePendingSells fills the orders queued on the prior session at
// today's close. Non-finite prices skip the order; the position survives
// to the next signal.
func (e *Engine) executePendingSells(s *state, si int, day time.Time) {
	orders := s.pending[si]
	delete(s.pending, si)

	for _, o := range orders {
		ti := e.in.Prices.TickerIndex(o.Ticker)
		if ti < 0 || s.qty[ti] <= 0 {
			continue
		}
		px := e.in.Prices.At(ti, si)
		if !isFinite(px) || px <= 0 {
			e.log.WithError(contracts.NewDataError("sell", o.Ticker, day, "non-finite price")).Warn("skipping sell")
			continue
		}

		held := s.qty[ti]
		sellQty := held
		if o.Pct < 100 {
			sellQty = int(math.Floor(float64(held)*o.Pct/100 + sellEpsilon))
		}
		if sellQty <= 0 {
			continue
		}

		notional := float64(sellQty) * px
		fee := notional * e.params.CostRate
		before := s.cash
		s.cash += notional - fee
		s.qty[ti] -= sellQty
		s.sold[o.Ticker] = true

		signalDay, _ := e.cal.Shift(day, -1)
		s.out.Trades = append(s.out.Trades, contracts.Trade{
			SignalDate:    signalDay,
			ExecutionDate: day,
			Ticker:        o.Ticker,
			Side:          contracts.SideSell,
			Reason:        o.Reason,
			Price:         px,
			Quantity:      sellQty,
			Notional:      notional,
			Cost:          fee,
		})
		s.out.Ledger = append(s.out.Ledger, contracts.LedgerEntry{
			Date:       day,
			EntryType:  contracts.EntryTradeSell,
			Ticker:     o.Ticker,
			Detail:     o.Reason,
			CashBefore: before,
			CashAfter:  s.cash,
		})

		if s.qty[ti] == 0 && s.entrySi[ti] >= 0 {
			s.out.HoldingDays = append(s.out.HoldingDays, si-s.entrySi[ti])
			s.entrySi[ti] = -1
		}
	}
}

// resolveBuyList filters the day's candidates to in-pool, alive names
// within the rank cut whose carried CEP state is in control, and releases
// any blocked ticker that reappears on the list.
func (e *Engine) resolveBuyList(s *state, day time.Time) []contracts.CandidateRow {
	var list []contracts.CandidateRow
	for _, row := range e.in.Candidates.BuyList(day) {
		if row.RankSlope45 > e.params.TopN {
			continue
		}
		if e.in.Ranking.StateEnd(day, row.Ticker) != contracts.StateInControl {
			continue
		}
		list = append(list, row)
		if s.blocked[row.Ticker] {
			delete(s.blocked, row.Ticker)
		}
	}
	return list
}

// executeBuys sizes and fills today's buys at the close. The first
// simulated day budgets a fixed fraction of initial capital per name;
// later days top existing names up to WExisting of reference equity and
// open new ones up to WNew. Negative cash after any fill is fatal.
func (e *Engine) executeBuys(s *state, si int, day time.Time, list []contracts.CandidateRow, firstDay bool) error {
	if len(list) == 0 {
		return nil
	}

	if firstDay {
		for _, row := range list {
			budget := e.params.InitialCapital * e.params.WInit
			if err := e.buy(s, si, day, row.Ticker, budget, contracts.ReasonInitialEntry); err != nil {
				return err
			}
		}
		return nil
	}

	equityRef := e.referenceEquity(s, si)

	// Top-ups first, then new entries, both in rank order. The current
	// position is valued at the execution-day close; the reference equity
	// stays at the prior close.
	for _, row := range list {
		ti := e.in.Prices.TickerIndex(row.Ticker)
		if ti < 0 || s.qty[ti] <= 0 {
			continue
		}
		px := e.in.Prices.At(ti, si)
		if !isFinite(px) || px <= 0 {
			continue
		}
		current := float64(s.qty[ti]) * px
		budget := e.params.WExisting*equityRef - current
		if budget <= 0 {
			continue
		}
		if err := e.buy(s, si, day, row.Ticker, budget, contracts.ReasonTopUp); err != nil {
			return err
		}
	}
	for _, row := range list {
		ti := e.in.Prices.TickerIndex(row.Ticker)
		if ti < 0 || s.qty[ti] > 0 {
			continue
		}
		budget := e.params.WNew * equityRef
		if err := e.buy(s, si, day, row.Ticker, budget, contracts.ReasonNewEntry); err != nil {
			return err
		}
	}
	return nil
}

// buy fills one order at today's close, bounded by the budget and by the
// cash available including fees.
func (e *Engine) buy(s *state, si int, day time.Time, ticker string, budget float64, reason string) error {
	if s.sold[ticker] || s.blocked[ticker] {
		return nil
	}
	ti := e.in.Prices.TickerIndex(ticker)
	if ti < 0 {
		return nil
	}
	px := e.in.Prices.At(ti, si)
	if !isFinite(px) || px <= 0 {
		e.log.WithError(contracts.NewDataError("buy", ticker, day, "non-finite price")).Warn("skipping buy")
		return nil
	}

	byBudget := math.Floor(budget / px)
	byCash := math.Floor(s.cash / (px * (1 + e.params.CostRate)))
	qty := int(math.Min(byBudget, byCash))
	if qty <= 0 {
		return nil
	}

	notional := float64(qty) * px
	fee := notional * e.params.CostRate
	before := s.cash
	s.cash -= notional + fee

	if s.cash < cashTolerance {
		return &contracts.InvariantViolation{
			Invariant: "cash >= 0 after buy",
			Session:   day,
			Ticker:    ticker,
			Detail:    fmt.Sprintf("cash=%.6f", s.cash),
		}
	}

	if s.qty[ti] == 0 {
		s.entrySi[ti] = si
	}
	s.qty[ti] += qty

	s.out.Trades = append(s.out.Trades, contracts.Trade{
		SignalDate:    day,
		ExecutionDate: day,
		Ticker:        ticker,
		Side:          contracts.SideBuy,
		Reason:        reason,
		Price:         px,
		Quantity:      qty,
		Notional:      notional,
		Cost:          fee,
	})
	s.out.Ledger = append(s.out.Ledger, contracts.LedgerEntry{
		Date:       day,
		EntryType:  contracts.EntryTradeBuy,
		Ticker:     ticker,
		Detail:     reason,
		CashBefore: before,
		CashAfter:  s.cash,
	})
	return nil
}

// queueSellSignals asks the policy (or the stress rule) for sells executing
// next session, and blocks any sold ticker from immediate reentry until it
// reappears on the buy list.
func (e *Engine) queueSellSignals(s *state, si int, day time.Time) {
	next := si + 1
	if next >= e.cal.Len() {
		return
	}

	var orders []contracts.SellOrder
	if e.in.Policy != nil {
		orders = e.in.Policy.Decide(si, day, e.holdings(s, si))
	} else {
		orders = e.stressOrders(s, day)
	}

	for _, o := range orders {
		ti := e.in.Prices.TickerIndex(o.Ticker)
		if ti < 0 || s.qty[ti] <= 0 {
			continue
		}
		s.pending[next] = append(s.pending[next], o)
		if o.Pct > 0 {
			s.blocked[o.Ticker] = true
		}
	}
}

// stressOrders is the default rule: a held, classified ticker that is not
// in control today sells out at the next session.
func (e *Engine) stressOrders(s *state, day time.Time) []contracts.SellOrder {
	var orders []contracts.SellOrder
	for ti, q := range s.qty {
		if q <= 0 {
			continue
		}
		tk := e.in.Prices.Tickers()[ti]
		st := e.in.Ranking.StateEnd(day, tk)
		if st == contracts.StateNone || st == contracts.StateInControl {
			continue
		}
		orders = append(orders, contracts.SellOrder{
			Ticker: tk,
			Pct:    100,
			Reason: contracts.ReasonStressSell,
		})
	}
	return orders
}

// accrueRiskFree applies the prior session's risk-free rate to end-of-day
// cash. A missing prior observation accrues at rate zero; the entry is
// written every session so the ledger stays a complete audit trail.
func (e *Engine) accrueRiskFree(s *state, si int, day time.Time) {
	rate := 0.0
	if prev, ok := e.cal.Shift(day, -1); ok {
		rate = e.in.RiskFree.Rate(prev)
	}
	before := s.cash
	s.cash *= 1 + rate
	s.out.Ledger = append(s.out.Ledger, contracts.LedgerEntry{
		Date:       day,
		EntryType:  contracts.EntryCashAccrual,
		Detail:     fmt.Sprintf("rate=%g", rate),
		CashBefore: before,
		CashAfter:  s.cash,
	})
}

// snapshot records equity and positions. Positions are valued at the prior
// session's close; that convention is part of the reporting contract.
func (e *Engine) snapshot(s *state, si int, day time.Time) {
	var posValue float64
	numPos := 0
	for ti, q := range s.qty {
		if q <= 0 {
			continue
		}
		numPos++
		prevPx := e.prevClose(ti, si)
		if isFinite(prevPx) {
			posValue += float64(q) * prevPx
		}
		s.out.Positions = append(s.out.Positions, contracts.PositionSnapshot{
			Date:     day,
			Ticker:   e.in.Prices.Tickers()[ti],
			Quantity: q,
		})
	}
	s.out.Equity = append(s.out.Equity, contracts.EquityPoint{
		Date:           day,
		Cash:           s.cash,
		PositionsValue: posValue,
		Equity:         s.cash + posValue,
		NumPositions:   numPos,
	})
}

// referenceEquity values the book at the prior close for weight caps.
func (e *Engine) referenceEquity(s *state, si int) float64 {
	eq := s.cash
	for ti, q := range s.qty {
		if q <= 0 {
			continue
		}
		px := e.prevClose(ti, si)
		if isFinite(px) {
			eq += float64(q) * px
		}
	}
	return eq
}

func (e *Engine) prevClose(ti, si int) float64 {
	if si == 0 {
		return math.NaN()
	}
	return e.in.Prices.At(ti, si-1)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
