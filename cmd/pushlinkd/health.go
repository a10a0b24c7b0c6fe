package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Crosschaser/Protos/internal/connection"
	"github.com/Crosschaser/Protos/internal/delivery"
	"github.com/Crosschaser/Protos/internal/fallback"
	"github.com/Crosschaser/Protos/internal/jobs"
)

type connectionStatus interface {
	Stats() connection.ManagerStats
}

type pollingStatus interface {
	IsPollingActive() bool
	Stats() fallback.Stats
}

type pipelineStatus interface {
	Stats() delivery.Stats
}

type ledgerStatus interface {
	Len() int
	Evicted() int64
}

type schedulerStatus interface {
	Stats() jobs.Stats
}

type healthResponse struct {
	Status     string                 `json:"status"`
	Components map[string]interface{} `json:"components"`
}

// newHealthHandler creates the HTTP handler for health checks.
func newHealthHandler(conn connectionStatus, poll pollingStatus, pipeline pipelineStatus, ledger ledgerStatus, sched schedulerStatus) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		cs := conn.Stats()
		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		stream := map[string]interface{}{
			"state":           cs.State.String(),
			"sessions":        cs.Sessions,
			"open_failures":   cs.OpenFailures,
			"stream_failures": cs.StreamFailures,
			"frames":          cs.FramesReceived,
		}
		if cs.Retry.Attempt > 0 {
			stream["retry_attempt"] = cs.Retry.Attempt
			stream["retry_delay"] = cs.Retry.NextDelay.String()
		}
		if !cs.LastConnectedAt.IsZero() {
			stream["last_connected_at"] = cs.LastConnectedAt.UTC().Format(time.RFC3339)
		}
		if cs.LastError != "" {
			stream["last_error"] = cs.LastError
		}
		health.Components["stream"] = stream

		ps := poll.Stats()
		polling := map[string]interface{}{
			"active":       poll.IsPollingActive(),
			"executions":   ps.Executions,
			"fetch_errors": ps.FetchErrors,
		}
		if !ps.LastPollAt.IsZero() {
			polling["last_poll_at"] = ps.LastPollAt.UTC().Format(time.RFC3339)
		}
		health.Components["polling"] = polling

		health.Components["pipeline"] = pipeline.Stats()
		health.Components["dedup"] = map[string]interface{}{
			"keys":    ledger.Len(),
			"evicted": ledger.Evicted(),
		}
		health.Components["scheduler"] = sched.Stats()

		switch cs.State {
		case connection.StateStreaming:
		case connection.StateConnecting, connection.StateDegraded:
			health.Status = "degraded"
		case connection.StateShuttingDown:
			health.Status = "unhealthy"
		default:
			health.Status = "idle"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
