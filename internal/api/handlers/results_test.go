package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cepfolio/internal/backtest"
	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/logger"
)

type fakeStore struct {
	runs      []store.RunSummary
	equity    []contracts.EquityPoint
	trades    []contracts.Trade
	positions []contracts.PositionSnapshot
	decisions []contracts.SellDecision
	baselines map[string]*contracts.BaselineLimits
	err       error
}

func (f *fakeStore) GetRuns(ctx context.Context) ([]store.RunSummary, error) {
	return f.runs, f.err
}

func (f *fakeStore) GetRun(ctx context.Context, runID string) (*store.RunSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.runs {
		if f.runs[i].RunID == runID {
			return &f.runs[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetEquity(ctx context.Context, runID string) ([]contracts.EquityPoint, error) {
	return f.equity, f.err
}

func (f *fakeStore) GetTrades(ctx context.Context, runID string) ([]contracts.Trade, error) {
	return f.trades, f.err
}

func (f *fakeStore) GetPositions(ctx context.Context, runID string, date time.Time) ([]contracts.PositionSnapshot, error) {
	return f.positions, f.err
}

func (f *fakeStore) GetDecisions(ctx context.Context, runID string) ([]contracts.SellDecision, error) {
	return f.decisions, f.err
}

func (f *fakeStore) GetBaselines(ctx context.Context) (map[string]*contracts.BaselineLimits, error) {
	return f.baselines, f.err
}

func newRouter(fs *fakeStore) http.Handler {
	h := NewResultsHandler(fs, logger.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/api/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}/equity", h.GetEquity).Methods("GET")
	r.HandleFunc("/api/runs/{id}/positions", h.GetPositions).Methods("GET")
	r.HandleFunc("/api/runs/{id}/decisions", h.GetDecisions).Methods("GET")
	return r
}

func TestListRuns(t *testing.T) {
	fs := &fakeStore{runs: []store.RunSummary{
		{RunID: "det_w45", Policy: "deterministic", RegimeWindow: 45,
			Metrics: backtest.Metrics{FinalEquity: 123456}},
	}}
	rec := httptest.NewRecorder()
	newRouter(fs).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []store.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "det_w45", got[0].RunID)
	assert.InDelta(t, 123456, got[0].Metrics.FinalEquity, 1e-9)
}

func TestGetRunNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeStore{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunStoreError(t *testing.T) {
	fs := &fakeStore{err: errors.New("connection refused")}
	rec := httptest.NewRecorder()
	newRouter(fs).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetPositionsRequiresDate(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeStore{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/det_w45/positions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(&fakeStore{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/det_w45/positions?date=03-04-2024", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(&fakeStore{}).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/det_w45/positions?date=2024-03-04", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetDecisionsRendersNaNAsNull(t *testing.T) {
	fs := &fakeStore{decisions: []contracts.SellDecision{
		{Date: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Ticker: "AAA",
			Score: 5, Z: -2.1, Sigma: 0.02, Pct: 50, Policy: "deterministic",
			WorstCumret3D: math.NaN(), Reward: 0.5},
	}}
	rec := httptest.NewRecorder()
	newRouter(fs).ServeHTTP(rec, httptest.NewRequest("GET", "/api/runs/det_w45/decisions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []SellDecisionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Z)
	assert.InDelta(t, -2.1, *got[0].Z, 1e-12)
	assert.Nil(t, got[0].WorstCumret3D)
}
