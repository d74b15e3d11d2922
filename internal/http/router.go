package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the operator API. metrics may be nil, in which case
// /metrics is not served.
func NewRouter(h *Handler, metrics prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/stock", func(r chi.Router) {
		r.Post("/", h.Provision)
		r.Route("/{groupId}", func(r chi.Router) {
			r.Get("/", h.GetStock)
			r.Put("/", h.SetStock)
			r.Delete("/", h.Deprovision)
			r.Post("/deduct", h.Deduct)
			r.Post("/reset", h.ResetDaily)
		})
	})

	return r
}
