package candidates

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/ranking"
	"github.com/wonny/cepfolio/pkg/logger"
)

func decisionDay(i int) time.Time {
	return time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// rankingFixture builds one ranking row per ticker per day, with OEE taken
// from the given per-day score maps.
func rankingFixture(days []map[string]float64) *ranking.Result {
	var rows []contracts.RankingRow
	for i, scores := range days {
		for tk, oee := range scores {
			rows = append(rows, contracts.RankingRow{
				Ticker:       tk,
				DecisionDate: decisionDay(i),
				OEEOverall:   oee,
				StateEnd:     contracts.StateInControl,
			})
		}
	}
	return ranking.NewResult(rows)
}

func newSelector(t *testing.T) *Selector {
	t.Helper()
	s, err := NewSelector(DefaultParams(), logger.NewNop())
	require.NoError(t, err)
	return s
}

func rowFor(t *testing.T, rows []contracts.CandidateRow, ticker string) contracts.CandidateRow {
	t.Helper()
	for _, r := range rows {
		if r.Ticker == ticker {
			return r
		}
	}
	t.Fatalf("no candidate row for %s", ticker)
	return contracts.CandidateRow{}
}

func TestPointsFollowPositionTable(t *testing.T) {
	scores := map[string]float64{}
	for i := 0; i < 12; i++ {
		// T00 strongest, T11 weakest, no ties.
		scores[fmt.Sprintf("T%02d", i)] = float64(12 - i)
	}
	res, err := newSelector(t).Run(rankingFixture([]map[string]float64{scores}))
	require.NoError(t, err)

	rows := res.ForDay(decisionDay(0))
	require.Equal(t, 25, rowFor(t, rows, "T00").Points)
	require.Equal(t, 18, rowFor(t, rows, "T01").Points)
	require.Equal(t, 1, rowFor(t, rows, "T09").Points)
	require.Equal(t, 0, rowFor(t, rows, "T10").Points)
	require.Equal(t, 0, rowFor(t, rows, "T11").Points)
}

func TestCutoffTiesAllScore(t *testing.T) {
	scores := map[string]float64{}
	for i := 0; i < 9; i++ {
		scores[fmt.Sprintf("T%02d", i)] = float64(20 - i)
	}
	// Three tickers tied exactly at the 10th position's score.
	scores["TIE1"] = 5
	scores["TIE2"] = 5
	scores["TIE3"] = 5
	scores["LOSE"] = 4

	res, err := newSelector(t).Run(rankingFixture([]map[string]float64{scores}))
	require.NoError(t, err)

	rows := res.ForDay(decisionDay(0))
	require.Equal(t, 1, rowFor(t, rows, "TIE1").Points)
	require.Equal(t, 1, rowFor(t, rows, "TIE2").Points)
	require.Equal(t, 1, rowFor(t, rows, "TIE3").Points)
	require.Equal(t, 0, rowFor(t, rows, "LOSE").Points)
}

func TestTickerTiebreakIsAlphabetical(t *testing.T) {
	res, err := newSelector(t).Run(rankingFixture([]map[string]float64{
		{"BBB": 1.0, "AAA": 1.0, "CCC": 0.5},
	}))
	require.NoError(t, err)

	rows := res.ForDay(decisionDay(0))
	require.Equal(t, 25, rowFor(t, rows, "AAA").Points)
	require.Equal(t, 18, rowFor(t, rows, "BBB").Points)
	require.Equal(t, 15, rowFor(t, rows, "CCC").Points)
}

func TestStandingsAccumulateAndUseMinRank(t *testing.T) {
	day := map[string]float64{"AAA": 3, "BBB": 2, "CCC": 1}
	res, err := newSelector(t).Run(rankingFixture([]map[string]float64{day, day}))
	require.NoError(t, err)

	rows := res.ForDay(decisionDay(1))
	require.Equal(t, 50, rowFor(t, rows, "AAA").PointsTotal)
	require.Equal(t, 36, rowFor(t, rows, "BBB").PointsTotal)
	require.Equal(t, 1, rowFor(t, rows, "AAA").Standing)
	require.Equal(t, 2, rowFor(t, rows, "BBB").Standing)
	require.Equal(t, 3, rowFor(t, rows, "CCC").Standing)
}

func TestAliveRequiresPositiveLongSlope(t *testing.T) {
	// All three tickers accumulate points every day, so every slope is
	// positive and the slope_45 ordering follows the daily award.
	days := make([]map[string]float64, 70)
	for i := range days {
		days[i] = map[string]float64{"AAA": 3, "BBB": 2, "CCC": 1}
	}
	res, err := newSelector(t).Run(rankingFixture(days))
	require.NoError(t, err)

	last := res.ForDay(decisionDay(69))
	a := rowFor(t, last, "AAA")
	require.True(t, a.InPool)
	require.True(t, a.Alive)
	require.Greater(t, a.Slope60, 0.0)
	require.Greater(t, a.Slope45, 0.0)

	b := rowFor(t, last, "BBB")
	c := rowFor(t, last, "CCC")
	require.Equal(t, 1, a.RankSlope45)
	require.Equal(t, 2, b.RankSlope45)
	require.Equal(t, 3, c.RankSlope45)
}

func TestZeroSlopeIsNotAlive(t *testing.T) {
	days := make([]map[string]float64, 70)
	for i := range days {
		scores := map[string]float64{"AAA": 3}
		// DEAD appears in the ranking but never scores points: eleven
		// higher-OEE tickers push it past the cutoff.
		for j := 0; j < 11; j++ {
			scores[fmt.Sprintf("X%02d", j)] = float64(20 - j)
		}
		scores["DEAD"] = 0.1
		days[i] = scores
	}
	res, err := newSelector(t).Run(rankingFixture(days))
	require.NoError(t, err)

	last := res.ForDay(decisionDay(69))
	dead := rowFor(t, last, "DEAD")
	require.Equal(t, 0, dead.PointsTotal)
	require.False(t, dead.Alive)
	require.Equal(t, 0, dead.RankSlope45)
}

func TestBuyListOrdersByRank(t *testing.T) {
	days := make([]map[string]float64, 70)
	for i := range days {
		days[i] = map[string]float64{"AAA": 3, "BBB": 2, "CCC": 1}
	}
	res, err := newSelector(t).Run(rankingFixture(days))
	require.NoError(t, err)

	list := res.BuyList(decisionDay(69))
	require.Len(t, list, 3)
	require.Equal(t, "AAA", list[0].Ticker)
	require.Equal(t, 1, list[0].RankSlope45)
	require.Equal(t, "CCC", list[2].Ticker)
}

func TestTrailingSlope(t *testing.T) {
	// Perfect line y = 2x over the window.
	series := []float64{0, 2, 4, 6, 8}
	require.InDelta(t, 2.0, trailingSlope(series, 5), 1e-12)
	// Window shorter than series: uses the tail only.
	require.InDelta(t, 2.0, trailingSlope(series, 3), 1e-12)
	// Single point or empty: no slope.
	require.Equal(t, 0.0, trailingSlope([]float64{5}, 30))
	require.Equal(t, 0.0, trailingSlope(nil, 30))
	// Flat series: slope 0.
	require.Equal(t, 0.0, trailingSlope([]float64{3, 3, 3, 3}, 4))
}
