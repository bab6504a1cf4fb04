// Package handlers implements the HTTP handlers of the results API.
package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/cepfolio/internal/contracts"
	"github.com/wonny/cepfolio/internal/store"
	"github.com/wonny/cepfolio/pkg/logger"
)

// ResultStore is the persistence surface the handlers read from.
type ResultStore interface {
	GetRuns(ctx context.Context) ([]store.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*store.RunSummary, error)
	GetEquity(ctx context.Context, runID string) ([]contracts.EquityPoint, error)
	GetTrades(ctx context.Context, runID string) ([]contracts.Trade, error)
	GetPositions(ctx context.Context, runID string, date time.Time) ([]contracts.PositionSnapshot, error)
	GetDecisions(ctx context.Context, runID string) ([]contracts.SellDecision, error)
	GetBaselines(ctx context.Context) (map[string]*contracts.BaselineLimits, error)
}

// ResultsHandler serves stored run results.
type ResultsHandler struct {
	store  ResultStore
	logger *logger.Logger
}

// NewResultsHandler creates a results handler.
func NewResultsHandler(s ResultStore, log *logger.Logger) *ResultsHandler {
	return &ResultsHandler{store: s, logger: log}
}

// ListRuns returns all stored run summaries.
// GET /api/runs
func (h *ResultsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.GetRuns(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun returns one run summary with its metrics.
// GET /api/runs/{id}
func (h *ResultsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve run")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// GetEquity returns the equity curve of one run.
// GET /api/runs/{id}/equity
func (h *ResultsHandler) GetEquity(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	points, err := h.store.GetEquity(r.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get equity curve")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve equity curve")
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// GetTrades returns the trades of one run.
// GET /api/runs/{id}/trades
func (h *ResultsHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	trades, err := h.store.GetTrades(r.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get trades")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve trades")
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

// GetPositions returns the position snapshots of one run on one date.
// GET /api/runs/{id}/positions?date=YYYY-MM-DD
func (h *ResultsHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		respondError(w, http.StatusBadRequest, "Missing 'date' query parameter (expected YYYY-MM-DD)")
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'date' format (expected YYYY-MM-DD)")
		return
	}

	positions, err := h.store.GetPositions(r.Context(), runID, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get positions")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

// SellDecisionView is the JSON form of a sell decision. NaN statistics
// become null; encoding/json rejects NaN outright.
type SellDecisionView struct {
	Date      time.Time `json:"date"`
	Ticker    string    `json:"ticker"`
	Score     int       `json:"score"`
	Z         *float64  `json:"z"`
	Sigma     *float64  `json:"sigma"`
	Pct       float64   `json:"pct"`
	Policy    string    `json:"policy"`
	Defensive bool      `json:"defensive"`

	Oracle        bool     `json:"oracle"`
	WorstCumret3D *float64 `json:"worst_cumret_3d"`
	Reward        float64  `json:"reward"`
}

// GetDecisions returns the sell-decision audit rows of one run.
// GET /api/runs/{id}/decisions
func (h *ResultsHandler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	decisions, err := h.store.GetDecisions(r.Context(), runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get sell decisions")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve sell decisions")
		return
	}

	views := make([]SellDecisionView, 0, len(decisions))
	for _, d := range decisions {
		views = append(views, SellDecisionView{
			Date:          d.Date,
			Ticker:        d.Ticker,
			Score:         d.Score,
			Z:             finiteOrNil(d.Z),
			Sigma:         finiteOrNil(d.Sigma),
			Pct:           d.Pct,
			Policy:        d.Policy,
			Defensive:     d.Defensive,
			Oracle:        d.Oracle,
			WorstCumret3D: finiteOrNil(d.WorstCumret3D),
			Reward:        d.Reward,
		})
	}
	respondJSON(w, http.StatusOK, views)
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// GetBaselines returns the stored control-chart baselines.
// GET /api/baselines
func (h *ResultsHandler) GetBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := h.store.GetBaselines(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get baselines")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve baselines")
		return
	}
	respondJSON(w, http.StatusOK, baselines)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
