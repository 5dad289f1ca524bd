package server

import (
	"net/http"
	"time"

	"github.com/aristath/marketd/internal/fetcher"
	"github.com/aristath/marketd/internal/metrics"
	"github.com/aristath/marketd/internal/server/respond"
)

// healthResponse is the /health payload.
type healthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Fetcher   *fetcher.Stat           `json:"fetcher,omitempty"`
	System    *metrics.SystemSnapshot `json:"system,omitempty"`
}

// handleHealth reports liveness plus the provider and host snapshots. It
// always answers 200; degraded providers show up in the payload, not the
// status code.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}
	if s.registry != nil {
		stat := s.registry.Stat()
		resp.Fetcher = &stat
	}
	if s.system != nil {
		snap := s.system.Snapshot()
		resp.System = &snap
	}
	respond.OK(w, resp)
}
