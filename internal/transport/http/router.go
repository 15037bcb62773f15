// Package httptransport assembles the service router: health, metrics, and
// the audit API, with optional bearer authentication on the API routes.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verity/pkg/platform/httputil"
	"verity/pkg/platform/middleware/auth"
)

// Registrar mounts a group of routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter builds the HTTP router. When jwtSigningKey is empty the API runs
// unauthenticated; health and metrics are always open.
func NewRouter(logger *slog.Logger, jwtSigningKey string, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		if jwtSigningKey != "" {
			api.Use(auth.RequireAuth(auth.NewHMACValidator(jwtSigningKey), logger))
		}
		for _, registrar := range registrars {
			registrar.Register(api)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
