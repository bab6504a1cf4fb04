package sellpolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

// actionStat accumulates the empirical value of one action in one bucket.
type actionStat struct {
	Sum   float64
	Count int
}

// BanditState maps a severity bucket to per-action reward statistics.
// Mutated only when delayed feedback matures.
type BanditState map[int]map[float64]*actionStat

// Value returns the empirical mean reward, or prior for unseen actions.
func (s BanditState) Value(bucket int, action, prior float64) float64 {
	if m, ok := s[bucket]; ok {
		if st, ok := m[action]; ok && st.Count > 0 {
			return st.Sum / float64(st.Count)
		}
	}
	return prior
}

func (s BanditState) add(bucket int, action, reward float64) {
	m, ok := s[bucket]
	if !ok {
		m = make(map[float64]*actionStat)
		s[bucket] = m
	}
	st, ok := m[action]
	if !ok {
		st = &actionStat{}
		m[action] = st
	}
	st.Sum += reward
	st.Count++
}

// pendingReward is a matured-later bandit observation. It merges into the
// state at the release session, never earlier.
type pendingReward struct {
	releaseSi int
	bucket    int
	action    float64
	reward    float64
}

// Bandit is the epsilon-greedy variant: one action per day, applied to all
// candidates, learned from rewards released RewardDelay sessions later.
type Bandit struct {
	*evaluator
	state   BanditState
	pending []pendingReward
	rng     *rand.Rand
}

// NewBandit creates the bandit policy. The generator must be explicitly
// seeded by the caller; identical inputs and seed reproduce identical
// trade sequences.
func NewBandit(returns *marketdata.Panel, flags marketdata.RuleFlags, params Params, rng *rand.Rand, log *logger.Logger) (*Bandit, error) {
	ev, err := newEvaluator(returns, flags, params, log)
	if err != nil {
		return nil, err
	}
	if len(params.Actions) == 0 {
		return nil, &contracts.ConfigError{Field: "sellpolicy.actions", Reason: "must not be empty"}
	}
	if params.Epsilon < 0 || params.Epsilon > 1 {
		return nil, &contracts.ConfigError{Field: "sellpolicy.epsilon", Reason: "must be in [0, 1]"}
	}
	if rng == nil {
		return nil, &contracts.ConfigError{Field: "sellpolicy.rng", Reason: "seeded generator required"}
	}
	return &Bandit{evaluator: ev, state: make(BanditState), rng: rng}, nil
}

// Name identifies the policy variant in outputs.
func (p *Bandit) Name() string { return "bandit" }

// State exposes the learned action values for reporting.
func (p *Bandit) State() BanditState { return p.state }

// Decide first merges matured rewards, then picks one action for the day's
// candidate set and queues its reward for release RewardDelay sessions out.
func (p *Bandit) Decide(si int, day time.Time, held []contracts.Holding) []contracts.SellOrder {
	p.release(si)

	if !p.regime.DefensiveAt(si) {
		return nil
	}
	cands := p.candidatesFor(si, held)
	if len(cands) == 0 {
		return nil
	}

	bucket := scoreBucket(cands)
	action := p.chooseAction(bucket)

	var rewardSum float64
	for _, c := range cands {
		rewardSum += p.rewardFor(c, si, action)
		p.record(c, si, action, p.Name())
	}
	p.pending = append(p.pending, pendingReward{
		releaseSi: si + p.params.RewardDelay,
		bucket:    bucket,
		action:    action,
		reward:    rewardSum / float64(len(cands)),
	})

	if action <= 0 {
		return nil
	}
	orders := make([]contracts.SellOrder, 0, len(cands))
	for _, c := range cands {
		orders = append(orders, contracts.SellOrder{
			Ticker: c.ticker,
			Pct:    action,
			Reason: contracts.ReasonPolicySell,
			Score:  c.score,
		})
	}
	return orders
}

// release merges every pending reward whose release session has arrived.
func (p *Bandit) release(si int) {
	kept := p.pending[:0]
	for _, pr := range p.pending {
		if pr.releaseSi <= si {
			p.state.add(pr.bucket, pr.action, pr.reward)
		} else {
			kept = append(kept, pr)
		}
	}
	p.pending = kept
}

// chooseAction is epsilon-greedy: explore uniformly, otherwise exploit the
// highest empirical value with ties resolved to the lowest action.
func (p *Bandit) chooseAction(bucket int) float64 {
	actions := p.params.Actions
	if p.rng.Float64() < p.params.Epsilon {
		return actions[p.rng.Intn(len(actions))]
	}
	best := actions[0]
	bestVal := p.state.Value(bucket, best, p.params.Prior)
	for _, a := range actions[1:] {
		if v := p.state.Value(bucket, a, p.params.Prior); v > bestVal {
			best, bestVal = a, v
		}
	}
	return best
}

// scoreBucket discretizes the candidate set: the mean score rounded to the
// nearest integer, clamped to [0, maxScore].
func scoreBucket(cands []candidate) int {
	var sum float64
	for _, c := range cands {
		sum += float64(c.score)
	}
	b := int(math.Round(sum / float64(len(cands))))
	if b < 0 {
		b = 0
	}
	if b > maxScore {
		b = maxScore
	}
	return b
}

// Seed derives the run PRNG seed from the regime slope window. The bandit
// variant gets its own stream.
func Seed(regimeWindow int, bandit bool) int64 {
	s := int64(42 + regimeWindow)
	if bandit {
		s += 100
	}
	return s
}
