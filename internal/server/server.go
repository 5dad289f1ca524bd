// Package server provides the HTTP server and routing for marketd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	backtesthandlers "github.com/aristath/marketd/internal/modules/backtest/handlers"
	stockhandlers "github.com/aristath/marketd/internal/modules/stocks/handlers"

	"github.com/aristath/marketd/internal/events"
	"github.com/aristath/marketd/internal/fetcher"
	"github.com/aristath/marketd/internal/metrics"
	"github.com/aristath/marketd/internal/server/respond"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	Port     int
	Registry *fetcher.Registry
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	System   *metrics.SystemStats

	StockHandlers    *stockhandlers.StockHandlers
	BacktestHandlers *backtesthandlers.BacktestHandlers
}

// Server is the HTTP front door: the REST API, the health and scrape
// endpoints, and the event stream.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	registry *fetcher.Registry
	metrics  *metrics.Metrics
	system   *metrics.SystemStats
	stream   *StreamHandler

	stockHandlers    *stockhandlers.StockHandlers
	backtestHandlers *backtesthandlers.BacktestHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:           chi.NewRouter(),
		log:              cfg.Log.With().Str("component", "server").Logger(),
		registry:         cfg.Registry,
		metrics:          cfg.Metrics,
		system:           cfg.System,
		stream:           NewStreamHandler(cfg.Bus, cfg.Log),
		stockHandlers:    cfg.StockHandlers,
		backtestHandlers: cfg.BacktestHandlers,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Trace id for error envelopes
	s.router.Use(respond.TraceID)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request counters and latency
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Operational endpoints live outside /api
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		// Unified event stream, before the REST modules
		r.Get("/events/ws", s.stream.ServeHTTP)

		if s.stockHandlers != nil {
			s.stockHandlers.RegisterRoutes(r)
		}
		if s.backtestHandlers != nil {
			s.backtestHandlers.RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server (blocking)
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.stream.Close()
	return s.server.Shutdown(ctx)
}

// Router exposes the configured handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
