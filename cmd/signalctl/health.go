package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/conference-signal/internal/journal"
	"github.com/rickgao/conference-signal/internal/signal"
	"github.com/rickgao/conference-signal/internal/store"
	"github.com/rickgao/conference-signal/internal/version"
)

// createHealthHandler creates the HTTP mux serving /health.
func createHealthHandler(st *store.Store[appState], manager *signal.Manager, jw *journal.Writer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Check hub connection
		phase := manager.Phase()
		switch phase {
		case signal.PhaseActive:
		case signal.PhaseStarting, signal.PhaseReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}
		health.Components["hub"] = map[string]any{
			"phase":         phase.String(),
			"conference_id": manager.ConferenceID(),
			"subscriptions": manager.Registry().Names(),
		}

		state := st.State()
		stats := st.Stats()
		health.Components["store"] = map[string]any{
			"conference_phase": state.Phase,
			"events":           state.Events,
			"last_error":       state.LastError,
			"dispatched":       stats.Dispatched,
			"processed":        stats.Processed,
			"queued":           stats.Queue.Depth,
			"queue_high_water": stats.Queue.HighWater,
		}

		if jw != nil {
			js := jw.Stats()
			health.Components["journal"] = map[string]any{
				"session_id": jw.SessionID().String(),
				"recorded":   js.Recorded,
				"inserts":    js.Inserts,
				"errors":     js.Errors,
				"dropped":    js.Dropped,
			}
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
