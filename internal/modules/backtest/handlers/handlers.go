// Package handlers exposes the backtest API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/modules/backtest"
	"github.com/aristath/marketd/internal/server/respond"
)

// BacktestHandlers serves the /backtest routes.
type BacktestHandlers struct {
	service *backtest.Service
	log     zerolog.Logger
}

// NewBacktestHandlers creates the backtest handlers.
func NewBacktestHandlers(service *backtest.Service, log zerolog.Logger) *BacktestHandlers {
	return &BacktestHandlers{
		service: service,
		log:     log.With().Str("component", "backtest_handlers").Logger(),
	}
}

// HandleBacktestStock runs one backtest and returns the stored result.
func (h *BacktestHandlers) HandleBacktestStock(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, h.log, domain.Validationf("invalid backtest request: %v", err))
		return
	}

	result, err := h.service.Backtest(r.Context(), &req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.OK(w, result)
}

// HandleBacktestStocks fans one strategy set over several symbols.
func (h *BacktestHandlers) HandleBacktestStocks(w http.ResponseWriter, r *http.Request) {
	var req backtest.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, h.log, domain.Validationf("invalid batch backtest request: %v", err))
		return
	}

	items, err := h.service.BacktestBatch(r.Context(), &req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if items == nil {
		items = []backtest.BatchItem{}
	}
	respond.OK(w, items)
}

// HandleGetResult returns one stored run with its full series.
func (h *BacktestHandlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.GetResult(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.OK(w, result)
}

// HandleListResults returns stored run summaries, paged and newest first.
// Query parameters: page, page_size, keyword.
func (h *BacktestHandlers) HandleListResults(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	keyword := r.URL.Query().Get("keyword")

	result, err := h.service.ListResults(r.Context(), page, pageSize, keyword)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if result.Items == nil {
		result.Items = []backtest.Summary{}
	}
	respond.OK(w, result)
}
