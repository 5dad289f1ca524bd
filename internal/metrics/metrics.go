// Package metrics exposes Prometheus counters for the HTTP surface, the
// provider router, and the scheduler, plus a host snapshot for health
// checks.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/marketd/internal/events"
)

// Metrics owns its own registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	fetcherCalls *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
}

// New creates and registers the collector set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_http_requests_total",
				Help: "HTTP requests served, by route pattern, method and status.",
			},
			[]string{"path", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketd_http_request_duration_seconds",
				Help:    "HTTP request latency, by route pattern and method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		fetcherCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_fetcher_calls_total",
				Help: "Provider invocations, by provider, method and outcome.",
			},
			[]string{"provider", "method", "outcome"},
		),
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_job_runs_total",
				Help: "Scheduled job executions, by job and outcome.",
			},
			[]string{"job", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.fetcherCalls,
		m.jobRuns,
	)
	return m
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern, so
// parameterized routes share one series instead of one per symbol.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()

		next.ServeHTTP(ww, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}
		m.httpRequests.WithLabelValues(path, r.Method, strconv.Itoa(ww.Status())).Inc()
		m.httpDuration.WithLabelValues(path, r.Method).Observe(time.Since(began).Seconds())
	})
}

// ObserveFetcherCall records one provider invocation. It satisfies the
// router's call observer hook.
func (m *Metrics) ObserveFetcherCall(provider, method string, ok bool) {
	m.fetcherCalls.WithLabelValues(provider, method, outcome(ok)).Inc()
}

// ObserveJobRun records one scheduled job execution.
func (m *Metrics) ObserveJobRun(job string, ok bool) {
	m.jobRuns.WithLabelValues(job, outcome(ok)).Inc()
}

// WatchBus counts job outcomes from completion events, so the scheduler
// does not need a direct metrics dependency.
func (m *Metrics) WatchBus(bus *events.Bus) {
	bus.Subscribe(events.JobCompleted, func(e *events.Event) {
		data, ok := e.Data.(*events.JobRunData)
		if !ok {
			return
		}
		m.ObserveJobRun(data.Job, data.OK)
	})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
