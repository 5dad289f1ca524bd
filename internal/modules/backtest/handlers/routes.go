package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all backtest routes.
func (h *BacktestHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/backtest", func(r chi.Router) {
		r.Post("/stock", h.HandleBacktestStock)
		r.Post("/stocks", h.HandleBacktestStocks)
		r.Get("/", h.HandleListResults)
		r.Get("/{id}", h.HandleGetResult)
	})
}
