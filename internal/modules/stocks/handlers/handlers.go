// Package handlers exposes the stock metadata API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
	"github.com/aristath/marketd/internal/modules/stocks"
	"github.com/aristath/marketd/internal/server/respond"
)

// DailyProvider serves range reads from the daily-bar cache.
type DailyProvider interface {
	GetDaily(ctx context.Context, stock *domain.StockBasicInfo, start, end time.Time) ([]domain.DailyBar, error)
}

// StockHandlers serves the /stocks routes.
type StockHandlers struct {
	service *stocks.Service
	daily   DailyProvider
	log     zerolog.Logger
}

// NewStockHandlers creates the stock metadata handlers.
func NewStockHandlers(service *stocks.Service, daily DailyProvider, log zerolog.Logger) *StockHandlers {
	return &StockHandlers{
		service: service,
		daily:   daily,
		log:     log.With().Str("component", "stock_handlers").Logger(),
	}
}

// HandleListStocks returns every stored stock record.
func (h *StockHandlers) HandleListStocks(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.List(r.Context())
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if infos == nil {
		infos = []domain.StockBasicInfo{}
	}
	respond.OK(w, infos)
}

// HandleFilterStocks returns the stocks matching the posted filter.
func (h *StockHandlers) HandleFilterStocks(w http.ResponseWriter, r *http.Request) {
	var req stocks.FilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, h.log, domain.Validationf("invalid filter request: %v", err))
		return
	}

	infos, err := h.service.Filter(r.Context(), req)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if infos == nil {
		infos = []domain.StockBasicInfo{}
	}
	respond.OK(w, infos)
}

// HandleFilterOptions returns the distinct values selectable in a filter.
func (h *StockHandlers) HandleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.service.FilterOptions(r.Context())
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	respond.OK(w, opts)
}

// HandleIndustryTree returns the classification tree as a level-ordered
// list.
func (h *StockHandlers) HandleIndustryTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.IndustryTree(r.Context())
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if tree == nil {
		tree = []domain.IndustryInfo{}
	}
	respond.OK(w, tree)
}

// HandleStockDaily returns the symbol's daily bars for [start, end],
// fetching whatever the cache is missing.
func (h *StockHandlers) HandleStockDaily(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		respond.Error(w, r, h.log, domain.Validationf("start and end query parameters are required"))
		return
	}
	start, err := domain.ParseDate(startStr)
	if err != nil {
		respond.Error(w, r, h.log, domain.Validationf("invalid start date %q", startStr))
		return
	}
	end, err := domain.ParseDate(endStr)
	if err != nil {
		respond.Error(w, r, h.log, domain.Validationf("invalid end date %q", endStr))
		return
	}

	stock, err := h.service.GetBySymbol(r.Context(), symbol)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}

	bars, err := h.daily.GetDaily(r.Context(), stock, start, end)
	if err != nil {
		respond.Error(w, r, h.log, err)
		return
	}
	if bars == nil {
		bars = []domain.DailyBar{}
	}
	respond.OK(w, bars)
}
