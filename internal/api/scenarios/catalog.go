package scenarios

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Vasu1712/scenyx-sync/internal/models"
	"github.com/Vasu1712/scenyx-sync/internal/storage"
	goerrors "github.com/pixil98/go-errors"
)

// Layouts accepted for catalog date filters, most specific first.
var filterTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// CreateScenario stores a new scenario from a JSON body of name, emitters and
// listeners.
func (h *ScenarioHandler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string            `json:"name"`
		Emitters  []models.Emitter  `json:"emitters"`
		Listeners []models.Listener `json:"listeners"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.DebugContext(r.Context(), "decoding create scenario body", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "Scenario name cannot be empty", http.StatusBadRequest)
		return
	}

	rec, err := h.Catalog.CreateScenario(r.Context(), &models.Scenario{
		Name:      req.Name,
		Emitters:  req.Emitters,
		Listeners: req.Listeners,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "creating scenario", "error", err)
		http.Error(w, "Failed to create scenario", http.StatusInternalServerError)
		return
	}

	writeJSON(r.Context(), w, http.StatusCreated, struct {
		Message  string                 `json:"message"`
		Scenario *models.ScenarioRecord `json:"scenario"`
	}{
		Message:  "Scenario saved",
		Scenario: rec,
	})
}

// ListScenarios returns the stored scenarios passing the query filter, each
// with its current viewer count.
func (h *ScenarioHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		http.Error(w, "Invalid filter: "+err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := h.Catalog.ListScenarios(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing scenarios", "error", err)
		http.Error(w, "Failed to list scenarios", http.StatusInternalServerError)
		return
	}

	for _, rec := range recs {
		rec.ActiveUsers = h.Engine.Viewers(rec.ID)
	}
	writeJSON(r.Context(), w, http.StatusOK, recs)
}

// GetScenario returns one stored scenario with its current viewer count.
// Edits that are live but not yet saved are not included.
func (h *ScenarioHandler) GetScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := scenarioID(w, r)
	if !ok {
		return
	}

	rec, err := h.Catalog.GetScenario(r.Context(), id)
	if !h.catalogOK(w, r, id, err) {
		return
	}

	rec.ActiveUsers = h.Engine.Viewers(id)
	writeJSON(r.Context(), w, http.StatusOK, rec)
}

// DeleteScenario removes a stored scenario nobody is viewing.
func (h *ScenarioHandler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, ok := scenarioID(w, r)
	if !ok {
		return
	}

	// A scenario the engine still holds would be written back by its
	// eviction flush.
	if h.Engine.Live(id) {
		http.Error(w, "Scenario is live", http.StatusConflict)
		return
	}

	rec, err := h.Catalog.DeleteScenario(r.Context(), id)
	if !h.catalogOK(w, r, id, err) {
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, struct {
		Success bool                   `json:"success"`
		Deleted *models.ScenarioRecord `json:"deleted"`
	}{
		Success: true,
		Deleted: rec,
	})
}

func (h *ScenarioHandler) catalogOK(w http.ResponseWriter, r *http.Request, id int64, err error) bool {
	switch {
	case errors.Is(err, storage.ErrScenarioNotFound):
		http.Error(w, "Scenario not found", http.StatusNotFound)
		return false
	case err != nil:
		slog.ErrorContext(r.Context(), "reading scenario catalog", "scenario", id, "error", err)
		http.Error(w, "Failed to read scenario", http.StatusInternalServerError)
		return false
	}
	return true
}

// parseFilter reads a catalog filter from query parameters, reporting every
// malformed parameter at once. Values may arrive wrapped in double quotes.
func parseFilter(q url.Values) (models.ScenarioFilter, error) {
	el := goerrors.NewErrorList()

	parseTime := func(key string) *time.Time {
		raw := unquote(q.Get(key))
		if raw == "" {
			return nil
		}
		for _, layout := range filterTimeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
		el.Add(fmt.Errorf("%s: %q is not an ISO 8601 date-time", key, raw))
		return nil
	}
	parseInt := func(key string) *int {
		raw := unquote(q.Get(key))
		if raw == "" {
			return nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			el.Add(fmt.Errorf("%s: %q is not an integer", key, raw))
			return nil
		}
		return &n
	}

	filter := models.ScenarioFilter{
		Name:          unquote(q.Get("name")),
		CreatedAfter:  parseTime("createdAfter"),
		CreatedBefore: parseTime("createdBefore"),
		UpdatedAfter:  parseTime("updatedAfter"),
		UpdatedBefore: parseTime("updatedBefore"),
		MinDevices:    parseInt("minDevices"),
		MaxDevices:    parseInt("maxDevices"),
	}
	return filter, el.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}
