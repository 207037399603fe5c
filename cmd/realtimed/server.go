package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/workflow-realtime/internal/connection"
	"github.com/rickgao/workflow-realtime/internal/journal"
	"github.com/rickgao/workflow-realtime/internal/model"
	"github.com/rickgao/workflow-realtime/internal/router"
	"github.com/rickgao/workflow-realtime/internal/version"
)

// pinger is the part of *pgxpool.Pool used by the health check.
type pinger interface {
	Ping(ctx context.Context) error
}

// viewSource is the part of *store.Memory served by the debug endpoint.
type viewSource interface {
	Select(workflowID string) (model.WorkflowView, bool)
}

type handlerDeps struct {
	manager     connection.Manager
	router      router.Router
	store       viewSource
	journal     *journal.Writer // nil when the journal is disabled
	pool        pinger          // nil when the journal is disabled
	gatherer    prometheus.Gatherer
	metricsPath string
}

// newHandler serves /health, metrics and the per-workflow debug view.
func newHandler(d handlerDeps) http.Handler {
	mux := http.NewServeMux()

	metricsPath := d.metricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if d.gatherer != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := d.manager.Stats()
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		health.Components["connections"] = map[string]any{
			"workflows":    stats.Workflows,
			"connected":    stats.Connected,
			"connecting":   stats.Connecting,
			"errored":      stats.Errored,
			"queued":       stats.Queued,
			"pending_acks": stats.PendingAcks,
		}
		if stats.Workflows > 0 && stats.Connected == 0 {
			health.Status = "degraded"
		}

		if d.router != nil {
			health.Components["router"] = d.router.Stats()
		}

		if d.pool != nil {
			if err := d.pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else if d.journal != nil {
				health.Components["journal"] = d.journal.Stats()
			}
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	mux.HandleFunc("GET /debug/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		conn, connected := d.manager.State(id)
		var view *model.WorkflowView
		if d.store != nil {
			if v, ok := d.store.Select(id); ok {
				view = &v
			}
		}
		if !connected && view == nil {
			http.NotFound(w, r)
			return
		}

		resp := struct {
			WorkflowID string              `json:"workflowId"`
			Transport  connection.Status   `json:"transport"`
			Connection any                 `json:"connection,omitempty"`
			View       *model.WorkflowView `json:"view,omitempty"`
		}{
			WorkflowID: id,
			Transport:  d.manager.Status(id),
			View:       view,
		}
		if connected {
			resp.Connection = conn
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}
