package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/cepfolio/internal/calendar"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/marketdata"
	"github.com/wonny/cepfolio/pkg/logger"
)

// fakeStates is a canned StateSource: eta defaults to 1 everywhere unless a
// ticker has an explicit state row.
type fakeStates struct {
	states map[string]map[int]contracts.CepLabel
	sigma  map[string]float64
}

func (f *fakeStates) StateAt(ticker string, si int) contracts.CepLabel {
	if m, ok := f.states[ticker]; ok {
		if s, ok := m[si]; ok {
			return s
		}
	}
	return contracts.StateInControl
}

func (f *fakeStates) EtaAt(ticker string, si int) int {
	if f.StateAt(ticker, si) == contracts.StateInControl {
		return 1
	}
	return 0
}

func (f *fakeStates) Baseline(ticker string) *contracts.BaselineLimits {
	sigma := 1.0
	if s, ok := f.sigma[ticker]; ok {
		sigma = s
	}
	return &contracts.BaselineLimits{Ticker: ticker, Sigma: sigma}
}

func panelOf(t *testing.T, series map[string][]float64) *marketdata.Panel {
	t.Helper()
	var n int
	for _, vs := range series {
		n = len(vs)
	}
	days := make([]time.Time, n)
	d := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range days {
		days[i] = d.AddDate(0, 0, i)
	}
	cal, err := calendar.New(days)
	require.NoError(t, err)

	var obs []marketdata.Observation
	for tk, vs := range series {
		for i, v := range vs {
			obs = append(obs, marketdata.Observation{Date: days[i], Ticker: tk, Value: v})
		}
	}
	return marketdata.NewPanel(cal, obs)
}

func rowFor(t *testing.T, rows []contracts.RankingRow, ticker string) contracts.RankingRow {
	t.Helper()
	for _, r := range rows {
		if r.Ticker == ticker {
			return r
		}
	}
	t.Fatalf("no row for %s", ticker)
	return contracts.RankingRow{}
}

func TestPerformanceIsOneWithoutNegativeSignals(t *testing.T) {
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 2},
		"BBB": {1, -1, 1, 1, 1, 1},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, &fakeStates{}, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)
	require.Len(t, res.Days(), 1)

	rows := res.ForDay(cal.At(5))
	a := rowFor(t, rows, "AAA")
	require.Equal(t, 1.0, a.PerformanceLP)
	require.Equal(t, 1.0, a.AvailabilityLP)

	// BBB: positive mass 4, total active mass 5 over sessions 0..4.
	b := rowFor(t, rows, "BBB")
	require.InDelta(t, 0.8, b.PerformanceLP, 1e-12)
}

func TestQualityUsesAverageRankPercentile(t *testing.T) {
	// LP variability over sessions 0..4: CCC constant (0) < AAA (0.5477)
	// < BBB (0.8944). Q = 1 - rank/n.
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 0},
		"BBB": {1, -1, 1, 1, 1, 0},
		"CCC": {2, 2, 2, 2, 2, 0},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, &fakeStates{}, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)
	rows := res.ForDay(cal.At(5))

	require.InDelta(t, 1-1.0/3, rowFor(t, rows, "CCC").QualityLP, 1e-12)
	require.InDelta(t, 1-2.0/3, rowFor(t, rows, "AAA").QualityLP, 1e-12)
	require.InDelta(t, 0.0, rowFor(t, rows, "BBB").QualityLP, 1e-12)

	// CP window (sessions 3,4): BBB and CCC tie at zero variability and
	// share the average rank 1.5.
	require.InDelta(t, 1-1.5/3, rowFor(t, rows, "BBB").QualityCP, 1e-12)
	require.InDelta(t, 1-1.5/3, rowFor(t, rows, "CCC").QualityCP, 1e-12)
	require.InDelta(t, 0.0, rowFor(t, rows, "AAA").QualityCP, 1e-12)
}

func TestOverallBlendsByWindowLength(t *testing.T) {
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 0},
		"BBB": {1, -1, 1, 1, 1, 0},
		"CCC": {2, 2, 2, 2, 2, 0},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, &fakeStates{}, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)
	a := rowFor(t, res.ForDay(cal.At(5)), "AAA")

	require.Equal(t, 5, a.NLP)
	require.Equal(t, 2, a.NCP)
	wCP := 2.0 / 5.0
	want := (1-wCP)*a.OEELP + wCP*a.OEECP
	require.InDelta(t, want, a.OEEOverall, 1e-12)
}

func TestVariabilityFallsBackToBaselineSigma(t *testing.T) {
	// BBB is out of control except on the final data session, leaving a
	// single active observation: V must fall back to the baseline sigma.
	states := &fakeStates{
		states: map[string]map[int]contracts.CepLabel{
			"BBB": {
				0: contracts.StateOutOfControlLevel,
				1: contracts.StateOutOfControlLevel,
				2: contracts.StateOutOfControlLevel,
				3: contracts.StateOutOfControlLevel,
			},
		},
		sigma: map[string]float64{"BBB": 9.5},
	}
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 0},
		"BBB": {1, 1, 1, 1, 1, 0},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, states, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)
	b := rowFor(t, res.ForDay(cal.At(5)), "BBB")

	require.InDelta(t, 9.5, b.VariabilityLP, 1e-12)
	require.InDelta(t, 1.0/5, b.AvailabilityLP, 1e-12)
}

func TestStateEndCarriesPriorSessionState(t *testing.T) {
	states := &fakeStates{
		states: map[string]map[int]contracts.CepLabel{
			"BBB": {4: contracts.StateOutOfControlVar},
		},
	}
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 0},
		"BBB": {1, 1, 2, 1, 1, 0},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, states, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)

	require.Equal(t, contracts.StateOutOfControlVar, res.StateEnd(cal.At(5), "BBB"))
	require.Equal(t, contracts.StateInControl, res.StateEnd(cal.At(5), "AAA"))
	b := rowFor(t, res.ForDay(cal.At(5)), "BBB")
	require.Equal(t, 0, b.EtaEnd)
}

func TestNoDecisionDaysIsConfigError(t *testing.T) {
	panel := panelOf(t, map[string][]float64{"AAA": {1, 2, 1}})

	eng, err := NewEngine(panel, &fakeStates{}, Params{
		DecisionStart: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	_, err = eng.Run()
	require.Error(t, err)
	var cfgErr *contracts.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestVariabilityExactSampleStdev(t *testing.T) {
	panel := panelOf(t, map[string][]float64{
		"AAA": {1, 2, 1, 2, 1, 0},
	})
	cal := panel.Calendar()

	eng, err := NewEngine(panel, &fakeStates{}, Params{
		DecisionStart: cal.At(5),
		CPWindow:      2,
	}, logger.NewNop())
	require.NoError(t, err)

	res, err := eng.Run()
	require.NoError(t, err)
	a := rowFor(t, res.ForDay(cal.At(5)), "AAA")

	// ddof=1 stdev of {1,2,1,2,1}.
	require.InDelta(t, math.Sqrt(0.3), a.VariabilityLP, 1e-12)
	// ddof=1 stdev of {2,1}.
	require.InDelta(t, math.Sqrt(0.5), a.VariabilityCP, 1e-12)
}
