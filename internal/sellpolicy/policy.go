// Package sellpolicy decides how much of a stressed holding to sell: a
// severity score over downside z-moves, persistence and external rule
// evidence feeds either a fixed score-to-percentage table or an
// epsilon-greedy bandit whose reward arrives three sessions later.
package sellpolicy

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

// Params controls scoring, regime detection and the bandit.
type Params struct {
	Lookback   int // rolling z window on log returns
	MinPeriods int
	TopK       int // max sell candidates per day
	MinScore   int // candidate threshold

	RegimeWindow int // rolling slope window of the portfolio series

	Epsilon float64
	Actions []float64 // sell percentages, ascending
	Prior   float64   // optimistic value for unseen actions

	RewardDelay     int     // sessions until a bandit reward matures
	Horizon         int     // forward sessions for the oracle label
	OracleSigmaMult float64 // oracle threshold in rolling sigmas
}

// DefaultParams returns the tuned policy configuration for a regime slope
// window.
func DefaultParams(regimeWindow int) Params {
	return Params{
		Lookback:        60,
		MinPeriods:      20,
		TopK:            3,
		MinScore:        4,
		RegimeWindow:    regimeWindow,
		Epsilon:         0.2,
		Actions:         []float64{0, 25, 50, 100},
		Prior:           0.5,
		RewardDelay:     3,
		Horizon:         3,
		OracleSigmaMult: 2,
	}
}

// evaluator holds the precomputed series shared by both policy variants:
// per-ticker rolling z-scores and sigmas, rule flags, the regime series and
// the decision audit trail.
type evaluator struct {
	params  Params
	cal     *calendar.SessionIndex
	returns *marketdata.Panel
	flags   marketdata.RuleFlags
	regime  *RegimeDetector

	z     [][]float64
	sigma [][]float64

	decisions []contracts.SellDecision
	log       *logger.Logger
}

func newEvaluator(returns *marketdata.Panel, flags marketdata.RuleFlags, params Params, log *logger.Logger) (*evaluator, error) {
	if params.Lookback < 2 {
		return nil, &contracts.ConfigError{Field: "sellpolicy.lookback", Reason: "must be >= 2"}
	}
	if params.RegimeWindow < 2 {
		return nil, &contracts.ConfigError{Field: "sellpolicy.regime_window", Reason: "must be >= 2"}
	}
	if params.Horizon < 1 {
		return nil, &contracts.ConfigError{Field: "sellpolicy.horizon", Reason: "must be >= 1"}
	}

	ev := &evaluator{
		params:  params,
		cal:     returns.Calendar(),
		returns: returns,
		flags:   flags,
		regime:  NewRegimeDetector(returns, params.RegimeWindow),
		log:     log,
	}

	tickers := returns.Tickers()
	ev.z = make([][]float64, len(tickers))
	ev.sigma = make([][]float64, len(tickers))
	for ti := range tickers {
		z, sd := rollingZ(returns.Series(ti), params.Lookback, params.MinPeriods)
		ev.z[ti] = z
		ev.sigma[ti] = sd
	}
	return ev, nil
}

// Regime exposes the detector for reporting.
func (e *evaluator) Regime() *RegimeDetector { return e.regime }

// Decisions returns the audit rows accumulated so far.
func (e *evaluator) Decisions() []contracts.SellDecision { return e.decisions }

type candidate struct {
	ticker string
	ti     int
	score  int
	z      float64
	sigma  float64
	wret   float64 // position weight times the session return
}

// candidatesFor scores every held ticker on session si and keeps the TopK
// with score >= MinScore and a negative finite z. Caller checks the regime.
// Score ties order by the position-weighted session return ascending, so
// the largest losing exposure exits first.
func (e *evaluator) candidatesFor(si int, held []contracts.Holding) []candidate {
	var cands []candidate
	for _, h := range held {
		ti := e.returns.TickerIndex(h.Ticker)
		if ti < 0 {
			continue
		}
		z := e.z[ti][si]
		if math.IsNaN(z) || z >= 0 {
			continue
		}
		score := e.scoreAt(h.Ticker, ti, si)
		if score < e.params.MinScore {
			continue
		}
		wret := 0.0
		if r := e.returns.At(ti, si); !math.IsNaN(r) && !math.IsInf(r, 0) {
			wret = h.Weight * r
		}
		cands = append(cands, candidate{ticker: h.Ticker, ti: ti, score: score, z: z, sigma: e.sigma[ti][si], wret: wret})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].wret != cands[j].wret {
			return cands[i].wret < cands[j].wret
		}
		return cands[i].ticker < cands[j].ticker
	})
	if e.params.TopK > 0 && len(cands) > e.params.TopK {
		cands = cands[:e.params.TopK]
	}
	return cands
}

// oracle labels a candidate ex post: defensive regime and the worst forward
// cumulative return over the horizon below -OracleSigmaMult sigmas. Used
// only for delayed rewards and audit rows, never for the decision itself.
func (e *evaluator) oracle(c candidate, si int) (bool, float64) {
	worst := math.NaN()
	cum := 0.0
	for f := 1; f <= e.params.Horizon; f++ {
		fi := si + f
		if fi >= e.cal.Len() {
			break
		}
		r := e.returns.At(c.ti, fi)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			break
		}
		cum += r
		if math.IsNaN(worst) || cum < worst {
			worst = cum
		}
	}
	if math.IsNaN(worst) || math.IsNaN(c.sigma) {
		return false, worst
	}
	hit := e.regime.DefensiveAt(si) && worst < -e.params.OracleSigmaMult*c.sigma
	return hit, worst
}

// rewardFor scores an action against the oracle: selling into a true
// drawdown earns the sold fraction, selling into noise earns the kept one.
func (e *evaluator) rewardFor(c candidate, si int, pct float64) float64 {
	a := pct / 100
	if a > 1 {
		a = 1
	}
	hit, _ := e.oracle(c, si)
	if hit {
		return a
	}
	return 1 - a
}

func (e *evaluator) record(c candidate, si int, pct float64, policy string) {
	hit, worst := e.oracle(c, si)
	e.decisions = append(e.decisions, contracts.SellDecision{
		Date:          e.cal.At(si),
		Ticker:        c.ticker,
		Score:         c.score,
		Z:             c.z,
		Sigma:         c.sigma,
		Pct:           pct,
		Policy:        policy,
		Defensive:     e.regime.DefensiveAt(si),
		Oracle:        hit,
		WorstCumret3D: worst,
		Reward:        e.rewardFor(c, si, pct),
	})
}

// Deterministic maps each candidate's score straight to a sell percentage.
type Deterministic struct {
	*evaluator
}

// NewDeterministic creates the fixed-table policy.
func NewDeterministic(returns *marketdata.Panel, flags marketdata.RuleFlags, params Params, log *logger.Logger) (*Deterministic, error) {
	ev, err := newEvaluator(returns, flags, params, log)
	if err != nil {
		return nil, err
	}
	return &Deterministic{evaluator: ev}, nil
}

// Name identifies the policy variant in outputs.
func (p *Deterministic) Name() string { return "deterministic" }

// Decide returns the day's sell orders for execution at the next session.
func (p *Deterministic) Decide(si int, day time.Time, held []contracts.Holding) []contracts.SellOrder {
	if !p.regime.DefensiveAt(si) {
		return nil
	}
	var orders []contracts.SellOrder
	for _, c := range p.candidatesFor(si, held) {
		pct := deterministicPct(c.score)
		p.record(c, si, pct, p.Name())
		if pct <= 0 {
			continue
		}
		orders = append(orders, contracts.SellOrder{
			Ticker: c.ticker,
			Pct:    pct,
			Reason: contracts.ReasonPolicySell,
			Score:  c.score,
		})
	}
	return orders
}

func deterministicPct(score int) float64 {
	switch {
	case score >= 6:
		return 100
	case score == 5:
		return 50
	case score == 4:
		return 25
	}
	return 0
}
