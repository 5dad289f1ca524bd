package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all stock metadata routes.
func (h *StockHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/stocks", func(r chi.Router) {
		r.Get("/", h.HandleListStocks)
		r.Post("/filter", h.HandleFilterStocks)
		r.Get("/filter-options", h.HandleFilterOptions)
		r.Get("/industries", h.HandleIndustryTree)
		r.Get("/{symbol}/daily", h.HandleStockDaily)
	})
}
