// Package backtest wires the full pipeline: classifier, ranking,
// championship selection and portfolio execution, then runs the
// (regime window x sell policy) variant matrix. Stages run once and are
// shared read-only across variants; variants run concurrently since they
// share no mutable state.
package backtest

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/wonny/cepfolio/internal/candidates"
	"github.com/wonny/cepfolio/internal/cep"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/internal/portfolio"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/internal/sellpolicy"
	"github.com/wonny/cepfolio/pkg/logger"
)

// PolicyKind selects the sell-side behavior of one variant.
type PolicyKind string

const (
	PolicyStress        PolicyKind = "stress"
	PolicyDeterministic PolicyKind = "deterministic"
	PolicyBandit        PolicyKind = "bandit"
)

// RunSpec names one variant of the matrix.
type RunSpec struct {
	Name         string
	RegimeWindow int
	Policy       PolicyKind
}

// DefaultSpecs is the standard matrix: the stress baseline plus both
// policy variants over each regime slope window.
func DefaultSpecs() []RunSpec {
	specs := []RunSpec{{Name: "stress_baseline", RegimeWindow: 45, Policy: PolicyStress}}
	for _, w := range []int{30, 45, 60} {
		specs = append(specs,
			RunSpec{Name: fmt.Sprintf("det_w%d", w), RegimeWindow: w, Policy: PolicyDeterministic},
			RunSpec{Name: fmt.Sprintf("bandit_w%d", w), RegimeWindow: w, Policy: PolicyBandit},
		)
	}
	return specs
}

// Inputs are the loaded, read-only series for a backtest.
type Inputs struct {
	Prices           *marketdata.Panel // closes; forward-filled by the engine
	Signals          *marketdata.Panel
	RiskFree         marketdata.RiskFree
	Flags            marketdata.RuleFlags
	CorporateActions []contracts.CorporateAction
}

// Config bundles the stage parameters.
type Config struct {
	CEP        cep.Params
	Ranking    ranking.Params
	Candidates candidates.Params
	Portfolio  portfolio.Params
	Policy     sellpolicy.Params // template; RegimeWindow comes from the RunSpec
}

// Engine runs the staged pipeline and the variant matrix.
type Engine struct {
	in  Inputs
	cfg Config
	log *logger.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(in Inputs, cfg Config, log *logger.Logger) (*Engine, error) {
	if in.Prices == nil || in.Signals == nil {
		return nil, &contracts.ConfigError{Field: "backtest.inputs", Reason: "price and signal panels required"}
	}
	return &Engine{in: in, cfg: cfg, log: log}, nil
}

// RunOutput is one variant's result. Err carries a fatal invariant
// violation; the partial result rows are still attached.
type RunOutput struct {
	Spec           RunSpec
	Result         *portfolio.RunResult
	Decisions      []contracts.SellDecision
	RegimeSwitches int
	Metrics        Metrics
	Err            error
}

// MatrixResult bundles the shared stage outputs and all variant runs.
type MatrixResult struct {
	CEP        *cep.Result
	Ranking    *ranking.Result
	Candidates *candidates.Result
	Runs       []RunOutput
}

// Run executes the shared stages once, then every variant concurrently.
func (e *Engine) Run(specs []RunSpec) (*MatrixResult, error) {
	e.in.Prices.ForwardFill()
	returns := e.in.Prices.LogReturns()

	classifier, err := cep.NewClassifier(e.in.Signals, e.cfg.CEP, e.log)
	if err != nil {
		return nil, err
	}
	states, err := classifier.Run()
	if err != nil {
		return nil, fmt.Errorf("cep stage failed: %w", err)
	}

	rankEngine, err := ranking.NewEngine(e.in.Signals, states, e.cfg.Ranking, e.log)
	if err != nil {
		return nil, err
	}
	rankRes, err := rankEngine.Run()
	if err != nil {
		return nil, fmt.Errorf("ranking stage failed: %w", err)
	}

	selector, err := candidates.NewSelector(e.cfg.Candidates, e.log)
	if err != nil {
		return nil, err
	}
	candRes, err := selector.Run(rankRes)
	if err != nil {
		return nil, fmt.Errorf("candidate stage failed: %w", err)
	}

	out := &MatrixResult{
		CEP:        states,
		Ranking:    rankRes,
		Candidates: candRes,
		Runs:       make([]RunOutput, len(specs)),
	}

	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec RunSpec) {
			defer wg.Done()
			out.Runs[i] = e.runVariant(spec, returns, rankRes, candRes)
		}(i, spec)
	}
	wg.Wait()

	for _, run := range out.Runs {
		fields := map[string]interface{}{
			"variant": run.Spec.Name,
			"trades":  0,
			"equity":  0.0,
		}
		if run.Result != nil {
			fields["trades"] = len(run.Result.Trades)
			fields["equity"] = run.Metrics.FinalEquity
		}
		if run.Err != nil {
			e.log.WithError(run.Err).WithFields(fields).Error("variant aborted")
		} else {
			e.log.WithFields(fields).Info("variant complete")
		}
	}
	return out, nil
}

// runVariant executes one (window, policy) cell of the matrix.
func (e *Engine) runVariant(spec RunSpec, returns *marketdata.Panel, rankRes *ranking.Result, candRes *candidates.Result) RunOutput {
	out := RunOutput{Spec: spec}

	policy, detector, err := e.buildPolicy(spec, returns)
	if err != nil {
		out.Err = err
		return out
	}

	engine, err := portfolio.NewEngine(portfolio.Inputs{
		Prices:           e.in.Prices,
		Ranking:          rankRes,
		Candidates:       candRes,
		RiskFree:         e.in.RiskFree,
		CorporateActions: e.in.CorporateActions,
		Policy:           policy,
	}, e.cfg.Portfolio, e.log)
	if err != nil {
		out.Err = err
		return out
	}

	res, runErr := engine.Run()
	out.Result = res
	out.Err = runErr
	if res == nil {
		return out
	}
	if res.Failure != nil {
		res.Failure.RunID = spec.Name
	}

	if auditor, ok := policy.(interface {
		Decisions() []contracts.SellDecision
	}); ok && auditor != nil {
		out.Decisions = auditor.Decisions()
	}
	out.Metrics = ComputeMetrics(res, out.Decisions)
	if detector != nil {
		out.RegimeSwitches = detector.Switches()
		out.Metrics.ApplyRegime(res.Equity, e.in.Prices.Calendar(), detector)
	}
	return out
}

// buildPolicy constructs the variant's sell policy with its own seeded
// generator; nil means the engine's stress rule.
func (e *Engine) buildPolicy(spec RunSpec, returns *marketdata.Panel) (portfolio.SellPolicy, *sellpolicy.RegimeDetector, error) {
	if spec.Policy == PolicyStress {
		return nil, nil, nil
	}

	params := e.cfg.Policy
	params.RegimeWindow = spec.RegimeWindow

	switch spec.Policy {
	case PolicyDeterministic:
		p, err := sellpolicy.NewDeterministic(returns, e.in.Flags, params, e.log)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Regime(), nil
	case PolicyBandit:
		rng := rand.New(rand.NewSource(sellpolicy.Seed(spec.RegimeWindow, true)))
		p, err := sellpolicy.NewBandit(returns, e.in.Flags, params, rng, e.log)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Regime(), nil
	}
	return nil, nil, &contracts.ConfigError{Field: "backtest.policy", Reason: "unknown policy kind " + string(spec.Policy)}
}
