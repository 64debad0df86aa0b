package controller

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"manualpilot/experiment/internal/wire"
)

// DefaultTouchInterval is how often an open signal stream refreshes its
// presence record.
const DefaultTouchInterval = 3 * time.Second

func Router(c *Coordinator, logger *slog.Logger, instanceID string) chi.Router {
	router := chi.NewRouter()
	router.Use(mid(instanceID))
	router.Get(wire.RouteHealth, health(c))
	router.Get(wire.RouteReady, ready())
	router.Get(wire.RouteSignal, SignalRoute(c, logger, DefaultTouchInterval))
	router.Get(wire.RouteSync, SyncRoute(c, logger))
	router.Method(http.MethodGet, "/metrics", c.metrics.Handler())
	router.Route("/control", controlRoutes(c))

	return router
}

// health is the participant's liveness ping.
func health(c *Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.RecordLiveness()
		w.WriteHeader(http.StatusNoContent)
	}
}

func ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func mid(instanceID string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "manualpilot")
			w.Header().Set("Instance-ID", instanceID)
			handler.ServeHTTP(w, r)
		})
	}
}
