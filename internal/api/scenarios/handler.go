package scenarios

import (
	"context"
	"encoding/json" // For encoding JSON responses
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Vasu1712/scenyx-sync/internal/engine"
	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	"github.com/gorilla/mux"
)

// LiveEngine is the part of the engine exposed over HTTP.
type LiveEngine interface {
	Snapshot(id int64) (*models.Scenario, bool)
	Live(id int64) bool
	Save(ctx context.Context, id int64) error
	Stats() engine.Stats
	Viewers(id int64) int
}

// ScenarioHandler holds the dependencies for the scenario HTTP endpoints.
type ScenarioHandler struct {
	Engine  LiveEngine      // Live scenario state
	Catalog storage.Catalog // Stored scenarios; nil disables the catalog routes
	WS      http.Handler    // Websocket endpoint for real-time sync
}

// GetLiveScenario returns the in-memory state of a scenario someone is
// currently viewing.
func (h *ScenarioHandler) GetLiveScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := scenarioID(w, r)
	if !ok {
		return
	}

	scenario, live := h.Engine.Snapshot(id)
	if !live {
		http.Error(w, "Scenario is not live", http.StatusNotFound)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, scenario)
}

// SaveScenario persists the live state of a scenario.
func (h *ScenarioHandler) SaveScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := scenarioID(w, r)
	if !ok {
		return
	}

	err := h.Engine.Save(r.Context(), id)
	switch {
	case errors.Is(err, engine.ErrNotLive):
		http.Error(w, "Scenario is not live", http.StatusNotFound)
	case err != nil:
		slog.ErrorContext(r.Context(), "saving scenario", "scenario", id, "error", err)
		http.Error(w, "Failed to save scenario", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Health reports liveness along with the engine's current load.
func (h *ScenarioHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.Engine.Stats()
	writeJSON(r.Context(), w, http.StatusOK, struct {
		Status string `json:"status"`
		engine.Stats
	}{
		Status: "ok",
		Stats:  stats,
	})
}

func scenarioID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		http.Error(w, "Invalid scenario id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(ctx, "writing response", "error", err)
	}
}
