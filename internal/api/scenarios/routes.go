package scenarios

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterScenarioRoutes registers the scenario HTTP and websocket routes.
// The given middlewares guard everything except the health check.
func RegisterScenarioRoutes(r *mux.Router, handler *ScenarioHandler, guards ...mux.MiddlewareFunc) {
	r.Use(accessLog)

	// Liveness stays reachable without a session.
	r.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/scenarios").Subrouter()
	api.Use(guards...)
	api.HandleFunc("/{id:[0-9]+}/live", handler.GetLiveScenario).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/save", handler.SaveScenario).Methods(http.MethodPost)

	if handler.Catalog != nil {
		api.HandleFunc("", handler.CreateScenario).Methods(http.MethodPost)
		api.HandleFunc("", handler.ListScenarios).Methods(http.MethodGet)
		api.HandleFunc("/{id:[0-9]+}", handler.GetScenario).Methods(http.MethodGet)
		api.HandleFunc("/{id:[0-9]+}", handler.DeleteScenario).Methods(http.MethodDelete)
	}

	if handler.WS != nil {
		sock := r.PathPrefix("/ws").Subrouter()
		sock.Use(guards...)
		sock.Handle("/scenarios", handler.WS).Methods(http.MethodGet)
	}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "[Scenario] request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
