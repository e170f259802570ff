package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"monetrix/internal/adapter/journal"
	"monetrix/internal/usecase/scheduling"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service   ServiceStatus           `json:"service"`
	Sessions  SessionStatus           `json:"sessions"`
	Tools     ToolStatus              `json:"tools"`
	Upstream  *UpstreamStatus         `json:"upstream,omitempty"`
	Journal   *journal.Counts         `json:"journal,omitempty"`
	Scheduler []scheduling.TaskStatus `json:"scheduler,omitempty"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SessionStatus holds session counts.
type SessionStatus struct {
	Active        int   `json:"active"`
	Total         int64 `json:"total"`
	StreamDropped int64 `json:"stream_dropped"`
}

// ToolStatus holds tool usage stats.
type ToolStatus struct {
	Registered   int   `json:"registered"`
	CallsTotal   int64 `json:"calls_total"`
	ErrorsTotal  int64 `json:"errors_total"`
	SkippedTotal int64 `json:"skipped_total"`
}

// UpstreamStatus holds the financial API circuit breaker state.
type UpstreamStatus struct {
	Breaker             string `json:"breaker"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	ToolCallsTotal   atomic.Int64
	ToolErrorsTotal  atomic.Int64
	ToolSkippedTotal atomic.Int64
	SessionsTotal    atomic.Int64
	CacheClearsTotal atomic.Int64
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sessions := deps.Sessions.List()
		var dropped int64
		for _, s := range sessions {
			dropped += int64(s.Stream.Dropped)
		}

		version := deps.Version
		if version == "" {
			version = "dev"
		}
		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "monetrix",
				Version:       version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Sessions: SessionStatus{
				Active:        len(sessions),
				Total:         metrics.SessionsTotal.Load(),
				StreamDropped: dropped,
			},
			Tools: ToolStatus{
				Registered:   len(deps.Catalog.Schemas()),
				CallsTotal:   metrics.ToolCallsTotal.Load(),
				ErrorsTotal:  metrics.ToolErrorsTotal.Load(),
				SkippedTotal: metrics.ToolSkippedTotal.Load(),
			},
		}
		if deps.Breaker != nil {
			counts := deps.Breaker.BreakerCounts()
			resp.Upstream = &UpstreamStatus{
				Breaker:             deps.Breaker.BreakerState(),
				Requests:            counts.Requests,
				TotalFailures:       counts.TotalFailures,
				ConsecutiveFailures: counts.ConsecutiveFailures,
			}
		}
		if deps.Journal != nil {
			if counts, err := deps.Journal.Counts(r.Context()); err == nil {
				resp.Journal = &counts
			} else {
				deps.Logger.Warn("status: journal counts failed", "error", err)
			}
		}
		if deps.Scheduler != nil {
			resp.Scheduler = deps.Scheduler.Status()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
